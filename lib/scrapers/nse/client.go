// Package nse fetches datasets from the exchange's website with a session
// obtained by the session package.
package nse

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"nsemirror/lib/restyutil"
	"nsemirror/lib/scrapers/nse/session"
	"nsemirror/lib/table"
	"nsemirror/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("nsemirror.lib.scrapers.nse")

const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// RetryPolicy applies to each Fetch call on its own.
type RetryPolicy struct {
	// Attempts counts the first request.
	Attempts int
	Wait     time.Duration
	// MaxWait caps the exponential backoff.
	MaxWait time.Duration
	Backoff string
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Wait:     2 * time.Second,
		Backoff:  BackoffFixed,
	}
}

func retryable(res *resty.Response, err error) bool {
	if err != nil {
		// a nil response means the request never left the client
		return res != nil
	}
	status := res.StatusCode()
	return status == http.StatusForbidden ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

func (p RetryPolicy) apply(client *resty.Client) {
	if p.Attempts <= 1 {
		return
	}
	wait := p.Wait
	if wait <= 0 {
		wait = DefaultRetryPolicy().Wait
	}

	client.SetRetryCount(p.Attempts - 1)
	client.SetRetryWaitTime(wait)
	client.AddRetryCondition(retryable)

	if p.Backoff == BackoffExponential {
		maxWait := p.MaxWait
		if maxWait < wait {
			maxWait = wait * 8
		}
		client.SetRetryMaxWaitTime(maxWait)
		return
	}
	client.SetRetryMaxWaitTime(wait)
	client.SetRetryAfter(func(*resty.Client, *resty.Response) (time.Duration, error) {
		return wait, nil
	})
}

type ClientOptions struct {
	// Timeout applies to every request, 15s when zero.
	Timeout time.Duration
	Retry   RetryPolicy
	Output  restyutil.InstrumentOutput
}

type Client struct {
	Session session.Session
	http    *resty.Client
}

// NewClient builds a client that sends the session's cookies and headers
// through the session's proxy. The zero Session gives an anonymous client.
func NewClient(sess session.Session, opts ClientOptions) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	for host, cookies := range sess.CookieHosts() {
		for _, scheme := range []string{"https", "http"} {
			jar.SetCookies(&url.URL{Scheme: scheme, Host: host, Path: "/"}, cookies)
		}
	}

	headers := sess.Headers
	if headers == nil {
		headers = session.DefaultHeaders("")
	}
	client := session.NewRestyClient(jar, headers, sess.Proxy, sess.Bypass, opts.Timeout)
	opts.Retry.apply(client)
	client.AddRetryHook(func(res *resty.Response, err error) {
		if res == nil || res.Request == nil {
			return
		}
		slog.WarnContext(
			res.Request.Context(), "retrying request",
			"url", res.Request.URL,
			"status", res.StatusCode(),
			"err", err,
		)
	})
	restyutil.InstrumentClient(client, tracer, opts.Output)

	return &Client{Session: sess, http: client}, nil
}

// Raw is a decoded response body together with what the normalizer needs
// to know about its shape.
type Raw struct {
	Source  string
	Data    any
	Options table.Options
}

func (r Raw) Normalize(columns []string) table.Table {
	return table.Normalize(r.Data, columns, r.Options)
}

// Fetch requests `src` with the retry policy and decodes the body. Every
// error it returns is a *FetchError.
func (c *Client) Fetch(ctx context.Context, src Source, params FetchParams) (Raw, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()

	link := src.URL(params)
	span.SetAttributes(
		attribute.String("source", src.Name()),
		attribute.String("url", link),
	)

	res, err := c.http.R().
		SetContext(ctx).
		Get(link)
	if err != nil {
		return Raw{}, failed(span, &FetchError{Kind: KindNetwork, Source: src.Name(), Err: err})
	}
	if !res.IsSuccess() {
		return Raw{}, failed(span, &FetchError{Kind: KindStatus, Source: src.Name(), Status: res.StatusCode()})
	}

	data, err := src.Decode(res.Body())
	if err != nil {
		return Raw{}, failed(span, &FetchError{
			Kind:   KindMalformed,
			Source: src.Name(),
			Status: res.StatusCode(),
			Err:    err,
		})
	}

	raw := Raw{Source: src.Name(), Data: data, Options: src.Options()}
	if key := raw.Options.Unwrap; key != "" {
		if obj, ok := data.(map[string]any); ok && len(obj) > 0 {
			if _, exists := obj[key]; !exists {
				return Raw{}, failed(span, &FetchError{
					Kind:   KindMalformed,
					Source: src.Name(),
					Status: res.StatusCode(),
					Err:    fmt.Errorf("response has no %q key", key),
				})
			}
		}
	}
	rows := table.Normalize(data, nil, raw.Options).Len()
	if obj, ok := data.(map[string]any); ok && len(obj) == 0 {
		rows = 0
	}
	if rows == 0 {
		return Raw{}, failed(span, &FetchError{Kind: KindEmpty, Source: src.Name(), Status: res.StatusCode()})
	}
	span.SetAttributes(attribute.Int("records", rows))
	return raw, nil
}

func failed(span trace.Span, err *FetchError) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Kind.String())
	return err
}
