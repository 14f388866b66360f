package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText returns the visible text of a selection with whitespace collapsed.
func CleanText(sel *goquery.Selection) string {
	var buffer bytes.Buffer
	for _, n := range sel.Nodes {
		getTextRecursive(n, &buffer)
	}
	text := strings.ReplaceAll(buffer.String(), "\u00a0", " ")
	text = innerWhitespace.ReplaceAllString(text, " ")
	text = removeNonPrintable(text)
	return strings.TrimSpace(text)
}

// Table is the text content of an html <table>.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ParseTable reads the header cells (thead, or the first row when there is
// no thead) and the body rows of `table`. Rows without any cells are skipped.
func ParseTable(table *goquery.Selection) Table {
	var out Table

	headerRow := table.Find("thead tr").First()
	bodyRows := table.Find("tbody tr")
	if headerRow.Length() == 0 {
		headerRow = table.Find("tr").First()
		bodyRows = table.Find("tr").Slice(1, goquery.ToEnd)
	}
	headerRow.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		out.Headers = append(out.Headers, CleanText(cell))
	})

	bodyRows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() == 0 {
			return
		}
		var values []string
		cells.Each(func(_ int, cell *goquery.Selection) {
			values = append(values, CleanText(cell))
		})
		out.Rows = append(out.Rows, values)
	})

	return out
}

// Records pairs each row's cells with the headers. Cells past the last
// header are dropped, missing trailing cells are left out of the record.
func (t Table) Records() []map[string]string {
	records := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		record := make(map[string]string, len(t.Headers))
		for i, header := range t.Headers {
			if i >= len(row) {
				break
			}
			record[header] = row[i]
		}
		records = append(records, record)
	}
	return records
}
