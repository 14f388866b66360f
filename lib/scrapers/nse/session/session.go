// Package session obtains the cookies the exchange's API demands before it
// answers, trying a list of strategies until one of them works.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nsemirror/lib/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("nsemirror.lib.scrapers.nse.session")

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// DefaultHeaders are sent with every request, the site rejects clients that
// don't look like a browser.
func DefaultHeaders(userAgent string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	return h
}

var ErrNoStrategies = errors.New("no session strategies configured")
var ErrNoCookies = errors.New("warm-up did not set any cookies")

// Session is the result of a successful handshake. It is not modified
// after it has been acquired.
type Session struct {
	// Source is the name of the strategy that produced the session.
	Source string
	// Origin is the page the cookies were harvested from.
	Origin     string
	Cookies    []*http.Cookie
	Headers    http.Header
	Proxy      string
	Bypass     bool
	AcquiredAt time.Time
}

// Empty reports whether this is the zero session used for anonymous requests.
func (s Session) Empty() bool {
	return s.Source == "" && len(s.Cookies) == 0
}

// CookieHosts groups the cookies by the host they should be sent to.
// Cookies without a domain belong to the origin's host.
func (s Session) CookieHosts() map[string][]*http.Cookie {
	originHost := ""
	if origin, err := url.Parse(s.Origin); err == nil {
		originHost = origin.Hostname()
	}
	out := map[string][]*http.Cookie{}
	for _, c := range s.Cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			host = originHost
		}
		out[host] = append(out[host], c)
	}
	return out
}

type Strategy interface {
	Name() string
	Acquire(ctx context.Context) (Session, error)
}

// StrategyFunc adapts a function into a Strategy.
type StrategyFunc struct {
	Label string
	Fn    func(ctx context.Context) (Session, error)
}

func (s StrategyFunc) Name() string {
	return s.Label
}

func (s StrategyFunc) Acquire(ctx context.Context) (Session, error) {
	return s.Fn(ctx)
}

type StrategyError struct {
	Strategy string
	Err      error
}

func (e StrategyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Strategy, e.Err)
}

func (e StrategyError) Unwrap() error {
	return e.Err
}

// AcquireError is returned when every strategy failed.
type AcquireError struct {
	Causes []StrategyError
}

func (e *AcquireError) Error() string {
	if len(e.Causes) == 0 {
		return ErrNoStrategies.Error()
	}
	parts := make([]string, len(e.Causes))
	for i, cause := range e.Causes {
		parts[i] = cause.Error()
	}
	return "all session strategies failed: " + strings.Join(parts, "; ")
}

func (e *AcquireError) Unwrap() []error {
	if len(e.Causes) == 0 {
		return []error{ErrNoStrategies}
	}
	out := make([]error, len(e.Causes))
	for i, cause := range e.Causes {
		out[i] = cause
	}
	return out
}

// Acquire runs `strategies` in order and returns the first session obtained.
// Strategies after the first success are never run.
func Acquire(ctx context.Context, strategies []Strategy) (Session, error) {
	ctx, span := tracer.Start(ctx, "Acquire")
	defer span.End()

	failure := &AcquireError{}
	for _, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			failure.Causes = append(failure.Causes, StrategyError{Strategy: strategy.Name(), Err: err})
			break
		}

		sess, err := acquireOne(ctx, strategy)
		if err == nil {
			span.SetAttributes(attribute.String("strategy", strategy.Name()))
			slog.InfoContext(ctx, "session acquired", "strategy", strategy.Name(), "cookies", len(sess.Cookies))
			return sess, nil
		}
		slog.WarnContext(ctx, "session strategy failed", "strategy", strategy.Name(), "err", err)
		failure.Causes = append(failure.Causes, StrategyError{Strategy: strategy.Name(), Err: err})
	}

	span.SetStatus(codes.Error, "all strategies failed")
	return Session{}, failure
}

func acquireOne(ctx context.Context, strategy Strategy) (Session, error) {
	ctx, span := tracer.Start(ctx, "strategy:"+strategy.Name())
	defer span.End()

	sess, err := strategy.Acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "strategy failed")
		return Session{}, err
	}
	if sess.Source == "" {
		sess.Source = strategy.Name()
	}
	if sess.AcquiredAt.IsZero() {
		sess.AcquiredAt = time.Now()
	}
	return sess, nil
}
