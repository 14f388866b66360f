package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

var punctuation = strings.NewReplacer("_", " ", "-", " ", ".", "", "/", " ")

// NormalizeName lowercases `name`, drops punctuation and collapses
// whitespace so that "Sr. No" and "sr_no" compare equal.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = punctuation.Replace(name)
	name = whitespaceRegex.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
