package table

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/gocarina/gocsv"
)

// Encode writes the header row followed by every row to `w`.
func (t Table) Encode(w io.Writer) error {
	writer := gocsv.NewSafeCSVWriter(csv.NewWriter(w))
	err := writer.Write(t.Columns)
	if err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = FormatCell(row[i])
			}
		}
		err = writer.Write(record)
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCSV replaces the file at `path` with the encoded table.
func WriteCSV(t Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = t.Encode(f)
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ParseCSV reads a CSV document with a header row into one record per row.
func ParseCSV(r io.Reader) ([]map[string]string, error) {
	return gocsv.CSVToMaps(r)
}
