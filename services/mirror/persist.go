package mirror

import (
	"fmt"
	"os"
	"path/filepath"

	"nsemirror/lib/table"
)

// Persist writes `t` to `dir`/`filename`, replacing any previous file.
func Persist(t table.Table, dir, filename string) (string, error) {
	if dir == "" {
		dir = "."
	}
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, filename)
	err = table.WriteCSV(t, path)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
