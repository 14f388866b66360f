// Package table turns irregular records into fixed-column tables.
package table

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Table is a normalized dataset. Every row holds exactly len(Columns) cells,
// in column order.
type Table struct {
	Columns []string
	Rows    [][]any
}

type Options struct {
	// Unwrap is the key of a top level object that holds the record list.
	Unwrap string
	// Record is the key of a nested object inside each record that holds
	// the actual fields.
	Record string
	// Aliases maps a raw key to the column it fills when that column is
	// not present under its own name.
	Aliases map[string]string
}

// Normalize builds a Table with exactly `columns` from `raw`. Missing or null
// fields become "", fields outside of `columns` are dropped. Row order follows
// the input order.
func Normalize(raw any, columns []string, opts Options) Table {
	out := Table{
		Columns: append([]string(nil), columns...),
		Rows:    [][]any{},
	}
	for _, record := range collect(raw, opts.Unwrap) {
		if opts.Record != "" {
			if nested, ok := asObject(record[opts.Record]); ok {
				record = nested
			}
		}
		flat := map[string]any{}
		flatten("", record, flat)
		applyAliases(flat, opts.Aliases)

		row := make([]any, len(columns))
		for i, col := range columns {
			value, ok := flat[col]
			if !ok || value == nil {
				row[i] = ""
				continue
			}
			row[i] = value
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

func collect(raw any, unwrap string) []map[string]any {
	switch v := raw.(type) {
	case nil:
		return nil
	case Table:
		return v.Records()
	case []any:
		var out []map[string]any
		for _, item := range v {
			if obj, ok := asObject(item); ok {
				out = append(out, obj)
			}
		}
		return out
	case []map[string]any:
		return v
	case []map[string]string:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			obj, _ := asObject(item)
			out = append(out, obj)
		}
		return out
	}

	obj, ok := asObject(raw)
	if !ok {
		return nil
	}
	if unwrap != "" {
		if inner, exists := obj[unwrap]; exists {
			return collect(inner, "")
		}
	}
	return []map[string]any{obj}
}

func asObject(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case map[string]string:
		out := make(map[string]any, len(obj))
		for k, val := range obj {
			out[k] = val
		}
		return out, true
	}
	return nil, false
}

// flatten joins nested object keys with ".", the way json_normalize does.
// Top level keys are kept as is even when a nested key would collide.
func flatten(prefix string, obj map[string]any, out map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := asObject(obj[k]); ok {
			flatten(key, nested, out)
			continue
		}
		if _, exists := out[key]; !exists {
			out[key] = obj[k]
		}
	}
}

func applyAliases(flat map[string]any, aliases map[string]string) {
	if len(aliases) == 0 {
		return
	}
	keys := make([]string, 0, len(aliases))
	for k := range aliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, from := range keys {
		to := aliases[from]
		value, ok := flat[from]
		if !ok {
			continue
		}
		if _, exists := flat[to]; exists {
			continue
		}
		flat[to] = value
	}
}

// Records converts the table back into one object per row.
func (t Table) Records() []map[string]any {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		record := make(map[string]any, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				record[col] = row[i]
			}
		}
		out = append(out, record)
	}
	return out
}

func (t Table) Len() int {
	return len(t.Rows)
}

// Sanitized returns a copy of the rows where infinities, NaN and nil cells
// are replaced by "" and lists or objects are rendered as JSON text.
func (t Table) Sanitized() [][]any {
	out := make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		clean := make([]any, len(row))
		for j, cell := range row {
			clean[j] = sanitizeCell(cell)
		}
		out[i] = clean
	}
	return out
}

func sanitizeCell(cell any) any {
	switch v := cell.(type) {
	case nil:
		return ""
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return ""
		}
	case float32:
		if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
			return ""
		}
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case []any, []string, map[string]any, map[string]string:
		// the sheets api only accepts scalar values
		return FormatCell(v)
	}
	return cell
}

// FormatCell renders a cell as text.
func FormatCell(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return formatFloat(v, 64)
	case float32:
		return formatFloat(float64(v), 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	}
	encoded, err := json.Marshal(cell)
	if err != nil {
		return fmt.Sprint(cell)
	}
	return string(encoded)
}

func formatFloat(v float64, bits int) string {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', -1, bits)
}
