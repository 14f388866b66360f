package restyutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FilesystemOutput dumps each recorded exchange into its own file.
type FilesystemOutput struct {
	directory string
	prefix    string
}

// NewFilesystemOutput wipes and recreates `dir`.
func NewFilesystemOutput(dir, prefix string) (FilesystemOutput, error) {
	err := os.RemoveAll(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir, prefix: prefix}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	name := fmt.Sprintf("%s%s.txt", o.prefix, id)
	err := os.WriteFile(filepath.Join(o.directory, name), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}
