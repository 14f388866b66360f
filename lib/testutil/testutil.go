package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"nsemirror/lib/telemetry"
)

// Setup initializes logging and telemetry for the test `name`, the returned
// function flushes telemetry.
func Setup(t testing.TB, name string) func() {
	return telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", name))
}

const (
	HomePath  = "/"
	ProbePath = "/api/marketStatus"
)

// NewSite starts a fake exchange. The home page sets an "nsit" cookie and
// the probe endpoint always answers, `routes` adds the dataset endpoints.
func NewSite(t testing.TB, routes map[string]http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(HomePath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != HomePath {
			http.NotFound(w, r)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "nsit", Value: "abc", Path: "/"})
		w.Write([]byte("<html><body>home</body></html>"))
	})
	mux.HandleFunc(ProbePath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"marketState": []}`))
	})
	for path, handler := range routes {
		mux.HandleFunc(path, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// Respond answers every request with `body`.
func Respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}
}
