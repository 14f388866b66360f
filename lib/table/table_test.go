package table

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var holidayColumns = []string{
	"tradingDate", "weekDay", "description",
	"morning_session", "evening_session", "Sr_no",
}

func decode(t *testing.T, body string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var out any
	require.NoError(t, dec.Decode(&out))
	return out
}

func TestNormalizeFillsMissingColumns(t *testing.T) {
	raw := map[string]any{"tradingDate": "01-01-2025"}

	result := Normalize(raw, holidayColumns, Options{})

	expected := Table{
		Columns: holidayColumns,
		Rows:    [][]any{{"01-01-2025", "", "", "", "", ""}},
	}
	if diff := cmp.Diff(expected, result); diff != "" {
		t.Fatal(diff)
	}
}

func TestNormalizeUnwrap(t *testing.T) {
	raw := decode(t, `{
		"CM": [{"tradingDate": "01-01-2030"}],
		"FO": [
			{"tradingDate":"26-01-2025","weekDay":"Sunday","description":"Republic Day"},
			{"tradingDate":"14-03-2025","weekDay":"Friday","description":"Holi","Sr_no":2,"extra":"dropped"}
		]
	}`)

	result := Normalize(raw, holidayColumns, Options{Unwrap: "FO"})

	expected := [][]any{
		{"26-01-2025", "Sunday", "Republic Day", "", "", ""},
		{"14-03-2025", "Friday", "Holi", "", "", json.Number("2")},
	}
	if diff := cmp.Diff(expected, result.Rows); diff != "" {
		t.Fatal(diff)
	}
}

func TestNormalizeUnwrapMissingKeyTreatsObjectAsRecord(t *testing.T) {
	raw := map[string]any{"tradingDate": "01-01-2025"}
	result := Normalize(raw, holidayColumns, Options{Unwrap: "FO"})
	require.Len(t, result.Rows, 1)
	require.Equal(t, "01-01-2025", result.Rows[0][0])
}

func TestNormalizeNestedRecord(t *testing.T) {
	raw := decode(t, `{"data": [
		{"metadata": {"symbol": "ABC", "lastPrice": 101.5, "iep": null}, "detail": {"preOpenMarket": {"totalBuyQuantity": 10}}},
		{"metadata": {"symbol": "XYZ"}}
	]}`)

	result := Normalize(raw, []string{"symbol", "lastPrice", "iep"}, Options{Unwrap: "data", Record: "metadata"})

	expected := [][]any{
		{"ABC", json.Number("101.5"), ""},
		{"XYZ", "", ""},
	}
	if diff := cmp.Diff(expected, result.Rows); diff != "" {
		t.Fatal(diff)
	}
}

func TestNormalizeFlattensNestedObjects(t *testing.T) {
	raw := []map[string]any{
		{"symbol": "ABC", "detail": map[string]any{"preOpenMarket": map[string]any{"IEP": 10.0}}},
	}
	result := Normalize(raw, []string{"symbol", "detail.preOpenMarket.IEP"}, Options{})
	require.Equal(t, [][]any{{"ABC", 10.0}}, result.Rows)
}

func TestNormalizeAliases(t *testing.T) {
	raw := []map[string]string{
		{"BD_SYMBOL": "ABC", "BD_QTY_TRD": "100"},
		{"Symbol": "XYZ", "BD_SYMBOL": "ignored"},
	}
	aliases := map[string]string{"BD_SYMBOL": "Symbol", "BD_QTY_TRD": "Quantity Traded"}

	result := Normalize(raw, []string{"Symbol", "Quantity Traded"}, Options{Aliases: aliases})

	expected := [][]any{
		{"ABC", "100"},
		{"XYZ", ""},
	}
	if diff := cmp.Diff(expected, result.Rows); diff != "" {
		t.Fatal(diff)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	first := Normalize(decode(t, `[
		{"tradingDate":"26-01-2025","weekDay":"Sunday"},
		{"description":"Holi","Sr_no":2}
	]`), holidayColumns, Options{})

	second := Normalize(first.Records(), holidayColumns, Options{})
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatal(diff)
	}

	third := Normalize(first, holidayColumns, Options{})
	if diff := cmp.Diff(first, third); diff != "" {
		t.Fatal(diff)
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	raw := decode(t, `[{"b": 1, "a": {"x": 1, "y": 2}, "c": "z"}, {"c": "q"}]`)
	columns := []string{"c", "a.y", "b", "a.x"}

	var buffers []string
	for i := 0; i < 5; i++ {
		var buf bytes.Buffer
		require.NoError(t, Normalize(raw, columns, Options{}).Encode(&buf))
		buffers = append(buffers, buf.String())
	}
	for _, b := range buffers[1:] {
		require.Equal(t, buffers[0], b)
	}
	require.Equal(t, "c,a.y,b,a.x\nz,2,1,1\nq,,,\n", buffers[0])
}

func TestNormalizeEmpty(t *testing.T) {
	for _, raw := range []any{nil, []any{}, []any{"not an object", 5}, "string"} {
		result := Normalize(raw, holidayColumns, Options{})
		require.Equal(t, 0, result.Len())
		require.Equal(t, holidayColumns, result.Columns)
	}
}

func TestSanitized(t *testing.T) {
	tbl := Table{
		Columns: []string{"a", "b", "c", "d", "e"},
		Rows: [][]any{
			{math.Inf(1), math.Inf(-1), math.NaN(), nil, json.Number("1.5")},
			{"text", 2.5, float32(math.Inf(1)), true, ""},
		},
	}

	clean := tbl.Sanitized()

	require.Equal(t, [][]any{
		{"", "", "", "", json.Number("1.5")},
		{"text", 2.5, "", true, ""},
	}, clean)
	// the table itself is left untouched
	require.True(t, math.IsInf(tbl.Rows[0][0].(float64), 1))
}

func TestSanitizedRendersNestedValues(t *testing.T) {
	tbl := Table{
		Columns: []string{"symbols", "meta", "tags"},
		Rows: [][]any{
			{[]any{"INFY", json.Number("2")}, map[string]any{"series": "EQ", "lot": json.Number("300")}, []string{"fo"}},
		},
	}

	require.Equal(t, [][]any{
		{`["INFY",2]`, `{"lot":300,"series":"EQ"}`, `["fo"]`},
	}, tbl.Sanitized())
}

func TestFormatCell(t *testing.T) {
	cases := []struct {
		in       any
		expected string
	}{
		{nil, ""},
		{"x", "x"},
		{json.Number("00123.50"), "00123.50"},
		{1234.5, "1234.5"},
		{1e21, "1000000000000000000000"},
		{math.Inf(1), "inf"},
		{math.NaN(), ""},
		{42, "42"},
		{false, "false"},
		{[]any{"a", 1.0}, `["a",1]`},
	}
	for _, test := range cases {
		require.Equal(t, test.expected, FormatCell(test.in))
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fo_holidays.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale,contents\n1,2\n3,4\n5,6\n"), 0600))

	tbl := Normalize(
		[]map[string]any{{"tradingDate": "26-01-2025", "description": "Republic Day, observed"}},
		holidayColumns,
		Options{},
	)
	require.NoError(t, WriteCSV(tbl, path))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t,
		"tradingDate,weekDay,description,morning_session,evening_session,Sr_no\n"+
			"26-01-2025,,\"Republic Day, observed\",,,\n",
		string(contents),
	)
}

func TestWriteCSVUnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "out.csv")
	err := WriteCSV(Table{Columns: []string{"a"}}, path)
	require.Error(t, err)
}

func TestParseCSV(t *testing.T) {
	records, err := ParseCSV(strings.NewReader("Symbol,Quantity Traded\nABC,100\nXYZ,200\n"))
	require.NoError(t, err)
	require.Equal(t, []map[string]string{
		{"Symbol": "ABC", "Quantity Traded": "100"},
		{"Symbol": "XYZ", "Quantity Traded": "200"},
	}, records)
}
