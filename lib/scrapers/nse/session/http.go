package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"nsemirror/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

// StatusError is a warm-up or probe request that came back non-2xx.
type StatusError struct {
	Url    string
	Status int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.Url, e.Status)
}

type HTTPOptions struct {
	// HomeUrl is the public page fetched first to collect cookies.
	HomeUrl string
	// ProbeUrl is a protected API endpoint that must answer 2xx with the
	// harvested cookies, it is skipped when empty.
	ProbeUrl  string
	Proxy     string
	Bypass    bool
	UserAgent string
	Timeout   time.Duration
	Output    restyutil.InstrumentOutput
}

// HTTPStrategy warms up a plain HTTP client against the home page.
type HTTPStrategy struct {
	opts HTTPOptions
}

func NewHTTPStrategy(opts HTTPOptions) HTTPStrategy {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	return HTTPStrategy{opts: opts}
}

func (s HTTPStrategy) Name() string {
	name := "http"
	if s.opts.Bypass {
		name = "http+bypass"
	}
	if s.opts.Proxy != "" {
		proxy, err := url.Parse(s.opts.Proxy)
		host := s.opts.Proxy
		if err == nil && proxy.Host != "" {
			host = proxy.Host
		}
		name += "@" + host
	}
	return name
}

// NewRestyClient builds the client shared by warm-up requests and dataset
// fetches. Cookies end up in `jar`.
func NewRestyClient(jar http.CookieJar, headers http.Header, proxy string, bypass bool, timeout time.Duration) *resty.Client {
	client := resty.New()
	client.SetCookieJar(jar)
	client.SetTimeout(timeout)
	for key, values := range headers {
		for _, v := range values {
			client.Header.Add(key, v)
		}
	}
	// proxy must be set while the transport is still an *http.Transport
	if proxy != "" {
		client.SetProxy(proxy)
	}
	if bypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	return client
}

func (s HTTPStrategy) Acquire(ctx context.Context) (Session, error) {
	home, err := url.Parse(s.opts.HomeUrl)
	if err != nil {
		return Session{}, fmt.Errorf("parse home url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return Session{}, err
	}

	headers := DefaultHeaders(s.opts.UserAgent)
	client := NewRestyClient(jar, headers, s.opts.Proxy, s.opts.Bypass, s.opts.Timeout)
	restyutil.InstrumentClient(client, tracer, s.opts.Output)

	collected := map[string]*http.Cookie{}
	var order []string
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		for _, c := range res.Cookies() {
			if _, seen := collected[c.Name]; !seen {
				order = append(order, c.Name)
			}
			collected[c.Name] = c
		}
		return nil
	})

	err = get(ctx, client, s.opts.HomeUrl, "")
	if err != nil {
		return Session{}, err
	}
	if s.opts.ProbeUrl != "" {
		err = get(ctx, client, s.opts.ProbeUrl, s.opts.HomeUrl)
		if err != nil {
			return Session{}, err
		}
	}

	cookies := make([]*http.Cookie, 0, len(order))
	for _, name := range order {
		cookies = append(cookies, collected[name])
	}
	// cookies a redirect set are only visible to the jar
	for _, c := range jar.Cookies(home) {
		if _, seen := collected[c.Name]; !seen {
			cookies = append(cookies, c)
		}
	}
	if len(cookies) == 0 {
		return Session{}, ErrNoCookies
	}

	headers.Set("Referer", s.opts.HomeUrl)
	return Session{
		Source:  s.Name(),
		Origin:  s.opts.HomeUrl,
		Cookies: cookies,
		Headers: headers,
		Proxy:   s.opts.Proxy,
		Bypass:  s.opts.Bypass,
	}, nil
}

func get(ctx context.Context, client *resty.Client, link, referer string) error {
	req := client.R().SetContext(ctx)
	if referer != "" {
		req.SetHeader("Referer", referer)
	}
	res, err := req.Get(link)
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return StatusError{Url: link, Status: res.StatusCode()}
	}
	return nil
}
