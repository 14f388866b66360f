package nse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"nsemirror/lib/htmlutil"
	"nsemirror/lib/table"
	"nsemirror/lib/textutil"
	"nsemirror/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
)

// FetchParams fill the date placeholders of a source url.
type FetchParams struct {
	From time.Time
	To   time.Time
}

const DefaultRangeDays = 30

// DefaultParams is the trailing 30 days ending on the day of `now`.
func DefaultParams(now time.Time) FetchParams {
	from, to := timezone.TrailingRange(now, DefaultRangeDays)
	return FetchParams{From: from, To: to}
}

// Source is one way of obtaining a dataset.
type Source interface {
	Name() string
	URL(params FetchParams) string
	// Anonymous sources are public archives that answer without a session.
	Anonymous() bool
	// Options tell the normalizer where the records are inside the
	// decoded body.
	Options() table.Options
	Decode(body []byte) (any, error)
}

func expandUrl(template string, params FetchParams) string {
	if !strings.Contains(template, "{") {
		return template
	}
	return strings.NewReplacer(
		"{from}", timezone.Format(params.From),
		"{to}", timezone.Format(params.To),
	).Replace(template)
}

func sourceName(label, url string) string {
	if label != "" {
		return label
	}
	return url
}

type JSONSource struct {
	Label string
	// Url may contain {from} and {to}, both are formatted as dd-mm-yyyy.
	Url     string
	Unwrap  string
	Record  string
	Aliases map[string]string
	Public  bool
}

func (s JSONSource) Name() string                  { return sourceName(s.Label, s.Url) }
func (s JSONSource) URL(params FetchParams) string { return expandUrl(s.Url, params) }
func (s JSONSource) Anonymous() bool               { return s.Public }

func (s JSONSource) Options() table.Options {
	return table.Options{Unwrap: s.Unwrap, Record: s.Record, Aliases: s.Aliases}
}

func (s JSONSource) Decode(body []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var out any
	err := decoder.Decode(&out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type CSVSource struct {
	Label   string
	Url     string
	Aliases map[string]string
	Public  bool
}

func (s CSVSource) Name() string                  { return sourceName(s.Label, s.Url) }
func (s CSVSource) URL(params FetchParams) string { return expandUrl(s.Url, params) }
func (s CSVSource) Anonymous() bool               { return s.Public }

func (s CSVSource) Options() table.Options {
	return table.Options{Aliases: s.Aliases}
}

var utf8Bom = []byte("\xef\xbb\xbf")

func (s CSVSource) Decode(body []byte) (any, error) {
	body = bytes.TrimPrefix(body, utf8Bom)
	if looksLikeHtml(body) {
		return nil, errors.New("expected csv, got an html page")
	}
	records, err := table.ParseCSV(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, len(records))
	for i, record := range records {
		trimmed := make(map[string]string, len(record))
		for k, v := range record {
			trimmed[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		out[i] = trimmed
	}
	return out, nil
}

func looksLikeHtml(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 64 {
		head = head[:64]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

const DefaultHeaderSimilarity = 0.85

// HTMLTableSource scrapes the first table on a page that has a header row.
// Headers are mapped onto Columns by exact match, then Aliases, then
// Jaro-Winkler similarity.
type HTMLTableSource struct {
	Label string
	Url   string
	// Selector defaults to "table".
	Selector string
	Columns  []string
	Aliases  map[string]string
	// Similarity is the minimum Jaro-Winkler score for a fuzzy header
	// match, DefaultHeaderSimilarity when zero.
	Similarity float64
	Public     bool
}

func (s HTMLTableSource) Name() string                  { return sourceName(s.Label, s.Url) }
func (s HTMLTableSource) URL(params FetchParams) string { return expandUrl(s.Url, params) }
func (s HTMLTableSource) Anonymous() bool               { return s.Public }
func (s HTMLTableSource) Options() table.Options        { return table.Options{} }

func (s HTMLTableSource) Decode(body []byte) (any, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	selector := s.Selector
	if selector == "" {
		selector = "table"
	}

	var parsed htmlutil.Table
	found := false
	doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		parsed = htmlutil.ParseTable(sel)
		found = len(parsed.Headers) > 0
		return !found
	})
	if !found {
		return nil, fmt.Errorf("no table matching %q", selector)
	}

	parsed.Headers = s.mapHeaders(parsed.Headers)
	return parsed.Records(), nil
}

func (s HTMLTableSource) mapHeaders(headers []string) []string {
	threshold := s.Similarity
	if threshold == 0 {
		threshold = DefaultHeaderSimilarity
	}

	used := map[string]bool{}
	out := make([]string, len(headers))
	pending := []int{}
	for i, header := range headers {
		out[i] = header
		if contains(s.Columns, header) && !used[header] {
			used[header] = true
			continue
		}
		if alias, ok := s.Aliases[header]; ok && !used[alias] {
			out[i] = alias
			used[alias] = true
			continue
		}
		pending = append(pending, i)
	}

	for _, i := range pending {
		best := ""
		bestScore := 0.0
		for _, col := range s.Columns {
			if used[col] {
				continue
			}
			score := matchr.JaroWinkler(
				textutil.NormalizeName(headers[i]),
				textutil.NormalizeName(col),
				false,
			)
			if score > bestScore {
				best = col
				bestScore = score
			}
		}
		if best != "" && bestScore >= threshold {
			out[i] = best
			used[best] = true
		}
	}
	return out
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
