package session

import (
	"log/slog"
	"time"

	"nsemirror/lib/restyutil"
)

type BrowserConfig struct {
	Enabled  bool
	ExecPath string
	Settle   time.Duration
}

type Config struct {
	HomeUrl   string
	ProbeUrl  string
	UserAgent string
	Timeout   time.Duration
	// Proxies are tried in order after the direct connection.
	Proxies []string
	// Bypass adds a strategy that disguises the TLS handshake as a browser's.
	Bypass  bool
	Browser BrowserConfig
	Output  restyutil.InstrumentOutput
}

// BuildStrategies returns the strategies in the order they should be tried:
// direct, then each proxy, then the bypass client, then a real browser if
// one is installed.
func BuildStrategies(cfg Config) []Strategy {
	base := HTTPOptions{
		HomeUrl:   cfg.HomeUrl,
		ProbeUrl:  cfg.ProbeUrl,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
		Output:    cfg.Output,
	}

	strategies := []Strategy{NewHTTPStrategy(base)}
	for _, proxy := range cfg.Proxies {
		if proxy == "" {
			continue
		}
		opts := base
		opts.Proxy = proxy
		strategies = append(strategies, NewHTTPStrategy(opts))
	}
	if cfg.Bypass {
		opts := base
		opts.Bypass = true
		strategies = append(strategies, NewHTTPStrategy(opts))
	}

	if !cfg.Browser.Enabled {
		return strategies
	}
	execPath, ok := LookupBrowser(cfg.Browser.ExecPath)
	if !ok {
		slog.Warn("no chrome binary found, skipping browser strategy", "exec_path", cfg.Browser.ExecPath)
		return strategies
	}
	strategies = append(strategies, NewBrowserStrategy(BrowserOptions{
		ExecPath:  execPath,
		HomeUrl:   cfg.HomeUrl,
		ProbeUrl:  cfg.ProbeUrl,
		UserAgent: cfg.UserAgent,
		Settle:    cfg.Browser.Settle,
	}))
	return strategies
}
