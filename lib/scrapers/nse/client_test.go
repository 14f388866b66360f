package nse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"nsemirror/lib/scrapers/nse/session"
	"nsemirror/lib/table"
	"nsemirror/lib/timezone"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryPolicy{Attempts: 3, Wait: time.Millisecond, Backoff: BackoffFixed}

func newTestClient(t *testing.T, sess session.Session) *Client {
	client, err := NewClient(sess, ClientOptions{Timeout: 5 * time.Second, Retry: fastRetry})
	require.NoError(t, err)
	return client
}

func TestFetchRetries(t *testing.T) {
	t.Run("always unavailable", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := newTestClient(t, session.Session{})
		_, err := client.Fetch(context.Background(), JSONSource{Url: server.URL}, FetchParams{})

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		require.Equal(t, KindStatus, fetchErr.Kind)
		require.Equal(t, http.StatusServiceUnavailable, fetchErr.Status)
		require.EqualValues(t, 3, hits.Load())
	})

	t.Run("recovers", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`[{"symbol":"INFY"}]`))
		}))
		defer server.Close()

		client := newTestClient(t, session.Session{})
		raw, err := client.Fetch(context.Background(), JSONSource{Url: server.URL}, FetchParams{})
		require.NoError(t, err)
		require.EqualValues(t, 3, hits.Load())
		require.Equal(t, 1, raw.Normalize([]string{"symbol"}).Len())
	})

	t.Run("not found is final", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := newTestClient(t, session.Session{})
		_, err := client.Fetch(context.Background(), JSONSource{Url: server.URL}, FetchParams{})

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		require.Equal(t, http.StatusNotFound, fetchErr.Status)
		require.False(t, fetchErr.AuthLike())
		require.EqualValues(t, 1, hits.Load())
	})

	t.Run("forbidden is auth-like", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		client := newTestClient(t, session.Session{})
		_, err := client.Fetch(context.Background(), JSONSource{Url: server.URL}, FetchParams{})

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		require.True(t, fetchErr.AuthLike())
		require.EqualValues(t, 3, hits.Load())
	})

	t.Run("network error", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		link := server.URL
		server.Close()

		client := newTestClient(t, session.Session{})
		_, err := client.Fetch(context.Background(), JSONSource{Url: link}, FetchParams{})

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		require.Equal(t, KindNetwork, fetchErr.Kind)
		require.Equal(t, 0, fetchErr.Status)
	})
}

func TestFetchSendsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("nsit")
		if err != nil || cookie.Value != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Referer") != "https://www.nseindia.com/" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []any{map[string]any{"symbol": "TCS"}},
		})
	}))
	defer server.Close()

	headers := session.DefaultHeaders("")
	headers.Set("Referer", "https://www.nseindia.com/")
	sess := session.Session{
		Source:  "test",
		Origin:  server.URL + "/",
		Cookies: []*http.Cookie{{Name: "nsit", Value: "abc"}},
		Headers: headers,
	}

	client := newTestClient(t, sess)
	raw, err := client.Fetch(context.Background(), JSONSource{Url: server.URL, Unwrap: "data"}, FetchParams{})
	require.NoError(t, err)

	got := raw.Normalize([]string{"symbol"})
	require.Equal(t, [][]any{{"TCS"}}, got.Rows)
}

func TestFetchJSON(t *testing.T) {
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte(`{
			"timestamp": "18-Oct-2026",
			"data": [
				{"metadata": {"symbol": "RELIANCE", "lastPrice": 2901.5, "iep": 2901.5}},
				{"metadata": {"symbol": "SBIN", "lastPrice": 812}}
			]
		}`))
	}))
	defer server.Close()

	from, err := timezone.Parse("18-09-2026")
	require.NoError(t, err)
	to, err := timezone.Parse("18-10-2026")
	require.NoError(t, err)

	src := JSONSource{
		Url:    server.URL + "/api/x?from_date={from}&to_date={to}",
		Unwrap: "data",
		Record: "metadata",
	}
	client := newTestClient(t, session.Session{})
	raw, err := client.Fetch(context.Background(), src, FetchParams{From: from, To: to})
	require.NoError(t, err)
	require.Equal(t, "from_date=18-09-2026&to_date=18-10-2026", query)

	got := raw.Normalize([]string{"symbol", "lastPrice", "iep"})
	expected := table.Table{
		Columns: []string{"symbol", "lastPrice", "iep"},
		Rows: [][]any{
			{"RELIANCE", json.Number("2901.5"), json.Number("2901.5")},
			{"SBIN", json.Number("812"), ""},
		},
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Fatal(diff)
	}
}

func TestFetchEmptyAndMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/empty":
			w.Write([]byte(`{"data": []}`))
		case "/html":
			w.Write([]byte(`<!DOCTYPE html><html><body>Access Denied</body></html>`))
		}
	}))
	defer server.Close()

	client := newTestClient(t, session.Session{})

	_, err := client.Fetch(context.Background(), JSONSource{Url: server.URL + "/empty", Unwrap: "data"}, FetchParams{})
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, KindEmpty, fetchErr.Kind)

	_, err = client.Fetch(context.Background(), JSONSource{Url: server.URL + "/html"}, FetchParams{})
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, KindMalformed, fetchErr.Kind)

	_, err = client.Fetch(context.Background(), CSVSource{Url: server.URL + "/html"}, FetchParams{})
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, KindMalformed, fetchErr.Kind)
}

func TestFetchMissingUnwrapKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/holidays":
			w.Write([]byte(`{"CM": [{"tradingDate": "26-Jan-2026"}]}`))
		case "/error":
			w.Write([]byte(`{"error": "resource not found"}`))
		}
	}))
	defer server.Close()

	client := newTestClient(t, session.Session{})

	_, err := client.Fetch(context.Background(), JSONSource{Url: server.URL + "/holidays", Unwrap: "FO"}, FetchParams{})
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, KindMalformed, fetchErr.Kind)
	require.ErrorContains(t, err, `"FO"`)

	_, err = client.Fetch(context.Background(), JSONSource{Url: server.URL + "/error", Unwrap: "data", Record: "metadata"}, FetchParams{})
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, KindMalformed, fetchErr.Kind)
}

func TestDefaultParams(t *testing.T) {
	now := time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)
	params := DefaultParams(now)
	// 20:00 UTC is already the 19th in India
	require.Equal(t, "19-10-2026", timezone.Format(params.To))
	require.Equal(t, "19-09-2026", timezone.Format(params.From))
}
