package restyutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestFormatHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("User-Agent", "test")
	headers.Set("Cookie", "nsit=secret")
	headers.Set("Accept", "*/*")

	require.Equal(t,
		"Accept: */*\nCookie: <redacted 11 bytes>\nUser-Agent: test",
		formatHeaders(headers),
	)
	require.Equal(t, "", formatHeaders(nil))
}

type memoryOutput map[string]string

func (m memoryOutput) Write(id string, contents string) {
	m[id] = contents
}

func TestInstrumentClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := resty.New()
	out := memoryOutput{}
	InstrumentClient(client, nil, out)

	res, err := client.R().SetHeader("Cookie", "nsit=abc").Get(server.URL + "/api/marketStatus")
	require.NoError(t, err)
	require.True(t, res.IsSuccess())

	// dumps are only recorded with debug logging
	for _, contents := range out {
		require.Contains(t, contents, "---- RESPONSE ----")
		require.Contains(t, contents, `{"ok":true}`)
		require.NotContains(t, contents, "nsit=abc")
	}
}

func TestFilesystemOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "http")
	require.NoError(t, os.MkdirAll(dir, 0777))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("old"), 0600))

	out, err := NewFilesystemOutput(dir, "nse-")
	require.NoError(t, err)
	out.Write("1", "hello")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasPrefix(entries[0].Name(), "nse-1"))

	contents, err := os.ReadFile(filepath.Join(dir, "nse-1.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(contents))
}
