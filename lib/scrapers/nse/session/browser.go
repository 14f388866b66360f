package session

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/shirou/gopsutil/v4/process"
)

var browserCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
	"chrome",
}

// LookupBrowser resolves the Chrome binary to drive, `execPath` wins when set.
func LookupBrowser(execPath string) (string, bool) {
	if execPath != "" {
		if _, err := os.Stat(execPath); err == nil {
			return execPath, true
		}
		if resolved, err := exec.LookPath(execPath); err == nil {
			return resolved, true
		}
		return "", false
	}
	for _, candidate := range browserCandidates {
		if resolved, err := exec.LookPath(candidate); err == nil {
			return resolved, true
		}
	}
	return "", false
}

type BrowserOptions struct {
	ExecPath  string
	HomeUrl   string
	ProbeUrl  string
	Proxy     string
	UserAgent string
	// Settle is how long to stay on the home page so its scripts can set
	// their cookies.
	Settle  time.Duration
	Timeout time.Duration
}

// BrowserStrategy loads the home page in headless Chrome and takes the
// cookies the page ends up with. Chrome is shut down before Acquire returns.
type BrowserStrategy struct {
	opts BrowserOptions
}

func NewBrowserStrategy(opts BrowserOptions) BrowserStrategy {
	if opts.Settle == 0 {
		opts.Settle = 3 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Minute
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return BrowserStrategy{opts: opts}
}

func (s BrowserStrategy) Name() string {
	return "browser"
}

func (s BrowserStrategy) Acquire(ctx context.Context) (Session, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.UserAgent(s.opts.UserAgent))
	if s.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(s.opts.ExecPath))
	}
	if s.opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(s.opts.Proxy))
	}

	ctx, cancelTimeout := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancelTimeout()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer func() {
		pid := browserPid(browserCtx)
		cancelBrowser()
		cancelAlloc()
		reapBrowser(pid)
	}()

	urls := []string{s.opts.HomeUrl}
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(s.opts.HomeUrl),
		chromedp.WaitReady("body"),
		chromedp.Sleep(s.opts.Settle),
	}
	if s.opts.ProbeUrl != "" {
		urls = append(urls, s.opts.ProbeUrl)
		tasks = append(tasks,
			chromedp.Navigate(s.opts.ProbeUrl),
			chromedp.WaitReady("body"),
		)
	}

	var browserCookies []*network.Cookie
	tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		browserCookies, err = network.GetCookies().WithUrls(urls).Do(ctx)
		return err
	}))

	err := chromedp.Run(browserCtx, tasks)
	if err != nil {
		return Session{}, err
	}
	if len(browserCookies) == 0 {
		return Session{}, ErrNoCookies
	}

	cookies := make([]*http.Cookie, len(browserCookies))
	for i, c := range browserCookies {
		cookies[i] = toHttpCookie(c)
	}

	headers := DefaultHeaders(s.opts.UserAgent)
	headers.Set("Referer", s.opts.HomeUrl)
	return Session{
		Source:  s.Name(),
		Origin:  s.opts.HomeUrl,
		Cookies: cookies,
		Headers: headers,
		Proxy:   s.opts.Proxy,
	}, nil
}

func toHttpCookie(c *network.Cookie) *http.Cookie {
	out := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	// session cookies report -1
	if c.Expires > 0 {
		out.Expires = time.Unix(int64(c.Expires), 0)
	}
	return out
}

func browserPid(ctx context.Context) int32 {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Browser == nil {
		return 0
	}
	proc := c.Browser.Process()
	if proc == nil {
		return 0
	}
	return int32(proc.Pid)
}

// reapBrowser kills the browser if it outlived its contexts.
func reapBrowser(pid int32) {
	if pid == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := process.PidExistsWithContext(ctx, pid)
	if err != nil || !exists {
		return
	}
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return
	}
	// the pid may have been reused already
	name, err := proc.NameWithContext(ctx)
	if err != nil {
		return
	}
	name = strings.ToLower(name)
	if !strings.Contains(name, "chrom") && !strings.Contains(name, "headless") {
		return
	}
	slog.Warn("browser outlived its context, killing it", "pid", pid)
	err = proc.KillWithContext(ctx)
	if err != nil {
		slog.Error("failed to kill browser", "pid", pid, "err", err)
	}
}
