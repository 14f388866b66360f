package mirror

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"nsemirror/lib/configutil"
	"nsemirror/lib/restyutil"
	"nsemirror/lib/scrapers/nse"
	"nsemirror/lib/scrapers/nse/session"
	"nsemirror/lib/spreadsheet"
	"nsemirror/lib/timezone"
)

// ErrStartupConfig marks configuration problems that must stop the program
// before anything is fetched.
var ErrStartupConfig = errors.New("invalid startup configuration")

const DefaultConfigFile = "config.json5"

type BrowserConfig struct {
	Disabled      bool    `json:"disabled"`
	ExecPath      string  `json:"exec_path"`
	SettleSeconds float64 `json:"settle_seconds"`
}

type RetryConfig struct {
	Attempts       int     `json:"attempts"`
	WaitSeconds    float64 `json:"wait_seconds"`
	MaxWaitSeconds float64 `json:"max_wait_seconds"`
	// Backoff is "fixed" or "exponential".
	Backoff string `json:"backoff"`
}

type Config struct {
	SheetId         string `json:"sheet_id"`
	CredentialsFile string `json:"credentials_file"`
	CredentialsJSON string `json:"credentials_json"`

	OutputDir string `json:"output_dir"`
	// Datasets restricts the run to these dataset ids, empty means all.
	Datasets []string `json:"datasets"`

	// FromDate and ToDate are dd-mm-yyyy, an unset bound is derived from
	// RangeDays.
	FromDate  string `json:"from_date"`
	ToDate    string `json:"to_date"`
	RangeDays int    `json:"range_days"`

	HomeUrl     string `json:"home_url"`
	ProbeUrl    string `json:"probe_url"`
	ApiBase     string `json:"api_base"`
	ArchiveBase string `json:"archive_base"`
	UserAgent   string `json:"user_agent"`

	Proxies       []string      `json:"proxies"`
	DisableBypass bool          `json:"disable_bypass"`
	Browser       BrowserConfig `json:"browser"`

	TimeoutSeconds float64     `json:"timeout_seconds"`
	Retry          RetryConfig `json:"retry"`

	// LocalOnly skips the spreadsheet, datasets stop at PERSISTED.
	LocalOnly bool `json:"local_only"`

	// DebugHttpDir receives a dump of every http exchange when debug
	// logging is on.
	DebugHttpDir string `json:"debug_http_dir"`
}

// DefaultConfig is what the config file is merged onto. Zero values in
// the file are skipped by the merge, so a knob with a non-zero default
// cannot be set back to zero from the file (settle_seconds: 0 keeps 3).
// Booleans are phrased so that false is the default for the same reason.
func DefaultConfig() Config {
	return Config{
		OutputDir:   ".",
		RangeDays:   nse.DefaultRangeDays,
		HomeUrl:     "https://www.nseindia.com/",
		ProbeUrl:    "https://www.nseindia.com/api/marketStatus",
		ApiBase:     "https://www.nseindia.com",
		ArchiveBase: "https://nsearchives.nseindia.com",
		UserAgent:   session.DefaultUserAgent,
		Browser: BrowserConfig{
			SettleSeconds: 3,
		},
		TimeoutSeconds: 15,
		Retry: RetryConfig{
			Attempts:    3,
			WaitSeconds: 2,
			Backoff:     nse.BackoffFixed,
		},
	}
}

// LoadConfig reads the config file (NSEMIRROR_CONFIG or config.json5) over
// the defaults, then applies environment overrides. A missing file is not
// an error.
func LoadConfig() (Config, error) {
	path := DefaultConfigFile
	configutil.EnvString(&path, "NSEMIRROR_CONFIG")

	cfg, err := configutil.ReadConfigOr(path, DefaultConfig())
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %w", ErrStartupConfig, path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrStartupConfig, err)
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() error {
	configutil.EnvString(&c.SheetId, "SHEET_ID")
	configutil.EnvString(&c.CredentialsFile, "CREDENTIALS_FILE")
	configutil.EnvString(&c.CredentialsJSON, "GOOGLE_CREDENTIALS_JSON")
	configutil.EnvList(&c.Proxies, "HTTP_PROXY_URLS")
	configutil.EnvString(&c.FromDate, "NSE_FROM_DATE")
	configutil.EnvString(&c.ToDate, "NSE_TO_DATE")
	configutil.EnvString(&c.OutputDir, "OUTPUT_DIR")
	configutil.EnvString(&c.Browser.ExecPath, "CHROME_PATH")
	return configutil.EnvInt(&c.RangeDays, "NSE_RANGE_DAYS")
}

func (c Config) Validate() error {
	var errs []error
	if !c.LocalOnly && c.SheetId == "" {
		errs = append(errs, errors.New("sheet_id is required (SHEET_ID)"))
	}
	if !c.LocalOnly && c.CredentialsFile == "" && c.CredentialsJSON == "" {
		errs = append(errs, errors.New("credentials are required (CREDENTIALS_FILE or GOOGLE_CREDENTIALS_JSON)"))
	}
	if c.FromDate != "" {
		if _, err := timezone.Parse(c.FromDate); err != nil {
			errs = append(errs, fmt.Errorf("from_date: %w", err))
		}
	}
	if c.ToDate != "" {
		if _, err := timezone.Parse(c.ToDate); err != nil {
			errs = append(errs, fmt.Errorf("to_date: %w", err))
		}
	}
	if c.FromDate != "" && c.ToDate != "" {
		from, fromErr := timezone.Parse(c.FromDate)
		to, toErr := timezone.Parse(c.ToDate)
		if fromErr == nil && toErr == nil && from.After(to) {
			errs = append(errs, fmt.Errorf("from_date %s is after to_date %s", c.FromDate, c.ToDate))
		}
	}
	if c.RangeDays < 0 {
		errs = append(errs, fmt.Errorf("range_days must not be negative, got %d", c.RangeDays))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts))
	}
	if c.Retry.Backoff != "" && c.Retry.Backoff != nse.BackoffFixed && c.Retry.Backoff != nse.BackoffExponential {
		errs = append(errs, fmt.Errorf("retry.backoff must be %q or %q, got %q", nse.BackoffFixed, nse.BackoffExponential, c.Retry.Backoff))
	}
	known := DatasetIds()
	for _, id := range c.Datasets {
		if !slices.Contains(known, id) {
			errs = append(errs, fmt.Errorf("unknown dataset %q", id))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrStartupConfig, errors.Join(errs...))
	}
	return nil
}

// Params resolves the date range relative to `now`.
func (c Config) Params(now time.Time) (nse.FetchParams, error) {
	days := c.RangeDays
	if days <= 0 {
		days = nse.DefaultRangeDays
	}
	params := nse.DefaultParams(now)
	params.From = params.To.AddDate(0, 0, -days)

	if c.ToDate != "" {
		to, err := timezone.Parse(c.ToDate)
		if err != nil {
			return nse.FetchParams{}, err
		}
		params.To = to
		params.From = to.AddDate(0, 0, -days)
	}
	if c.FromDate != "" {
		from, err := timezone.Parse(c.FromDate)
		if err != nil {
			return nse.FetchParams{}, err
		}
		params.From = from
	}
	return params, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c Config) SessionConfig(output restyutil.InstrumentOutput) session.Config {
	return session.Config{
		HomeUrl:   c.HomeUrl,
		ProbeUrl:  c.ProbeUrl,
		UserAgent: c.UserAgent,
		Timeout:   seconds(c.TimeoutSeconds),
		Proxies:   c.Proxies,
		Bypass:    !c.DisableBypass,
		Browser: session.BrowserConfig{
			Enabled:  !c.Browser.Disabled,
			ExecPath: c.Browser.ExecPath,
			Settle:   seconds(c.Browser.SettleSeconds),
		},
		Output: output,
	}
}

func (c Config) ClientOptions(output restyutil.InstrumentOutput) nse.ClientOptions {
	return nse.ClientOptions{
		Timeout: seconds(c.TimeoutSeconds),
		Retry: nse.RetryPolicy{
			Attempts: c.Retry.Attempts,
			Wait:     seconds(c.Retry.WaitSeconds),
			MaxWait:  seconds(c.Retry.MaxWaitSeconds),
			Backoff:  c.Retry.Backoff,
		},
		Output: output,
	}
}

// OpenSheet loads the service account and prepares the target spreadsheet.
func (c Config) OpenSheet(ctx context.Context) (*spreadsheet.GoogleSheet, error) {
	creds, err := spreadsheet.LoadCredentials(ctx, spreadsheet.CredentialsSource{
		JSON: c.CredentialsJSON,
		File: c.CredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartupConfig, err)
	}
	sheet, err := spreadsheet.OpenGoogle(ctx, creds, c.SheetId)
	if err != nil {
		return nil, fmt.Errorf("%w: open spreadsheet: %w", ErrStartupConfig, err)
	}
	return sheet, nil
}
