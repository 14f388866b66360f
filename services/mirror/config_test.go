package mirror

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"nsemirror/lib/scrapers/nse"
	"nsemirror/lib/timezone"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrStartupConfig)
	require.ErrorContains(t, err, "sheet_id")
	require.ErrorContains(t, err, "credentials")

	cfg.LocalOnly = true
	require.NoError(t, cfg.Validate())
	cfg.LocalOnly = false

	cfg.SheetId = "sheet"
	cfg.CredentialsFile = "creds.json"
	require.NoError(t, cfg.Validate())

	cfg.Datasets = []string{"fo_holidays", "options_chain"}
	cfg.FromDate = "2026-10-01"
	err = cfg.Validate()
	require.ErrorIs(t, err, ErrStartupConfig)
	require.ErrorContains(t, err, "options_chain")
	require.ErrorContains(t, err, "from_date")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nsemirror.json5")
	err := os.WriteFile(path, []byte(`{
		// trailing commas and comments are fine
		sheet_id: "from-file",
		datasets: ["events"],
		retry: { attempts: 5 },
	}`), 0644)
	require.NoError(t, err)

	t.Setenv("NSEMIRROR_CONFIG", path)
	t.Setenv("SHEET_ID", "from-env")
	t.Setenv("HTTP_PROXY_URLS", "http://10.0.0.1:3128, http://10.0.0.2:3128")
	t.Setenv("GOOGLE_CREDENTIALS_JSON", "{}")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.SheetId)
	require.Equal(t, []string{"events"}, cfg.Datasets)
	require.Equal(t, []string{"http://10.0.0.1:3128", "http://10.0.0.2:3128"}, cfg.Proxies)
	require.Equal(t, 5, cfg.Retry.Attempts)
	// untouched by the file
	require.Equal(t, 2.0, cfg.Retry.WaitSeconds)
	require.Equal(t, "https://www.nseindia.com/", cfg.HomeUrl)
	require.NoError(t, cfg.Validate())
}

func TestValidateDateOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalOnly = true
	cfg.FromDate = "01-10-2026"
	cfg.ToDate = "18-10-2026"
	require.NoError(t, cfg.Validate())

	cfg.FromDate = "19-10-2026"
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrStartupConfig)
	require.ErrorContains(t, err, "after to_date")

	cfg.FromDate = "18-10-2026"
	require.NoError(t, cfg.Validate())

	cfg.RangeDays = -1
	require.ErrorIs(t, cfg.Validate(), ErrStartupConfig)
}

func TestLoadConfigRangeDays(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nsemirror.json5")
	err := os.WriteFile(path, []byte(`{ browser: { settle_seconds: 0 } }`), 0644)
	require.NoError(t, err)
	t.Setenv("NSEMIRROR_CONFIG", path)

	t.Setenv("NSE_RANGE_DAYS", "7")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 7, cfg.RangeDays)
	// zero in the file does not override the default
	require.Equal(t, 3.0, cfg.Browser.SettleSeconds)

	params, err := cfg.Params(time.Date(2026, 10, 18, 9, 0, 0, 0, timezone.Location))
	require.NoError(t, err)
	require.Equal(t, "11-10-2026", timezone.Format(params.From))

	t.Setenv("NSE_RANGE_DAYS", "a week")
	_, err = LoadConfig()
	require.ErrorIs(t, err, ErrStartupConfig)
	require.ErrorContains(t, err, "NSE_RANGE_DAYS")
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("NSEMIRROR_CONFIG", filepath.Join(t.TempDir(), "absent.json5"))
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().ProbeUrl, cfg.ProbeUrl)
}

func TestParams(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, timezone.Location)

	cfg := DefaultConfig()
	params, err := cfg.Params(now)
	require.NoError(t, err)
	require.Equal(t, "18-09-2026", timezone.Format(params.From))
	require.Equal(t, "18-10-2026", timezone.Format(params.To))

	cfg.ToDate = "10-10-2026"
	cfg.RangeDays = 7
	params, err = cfg.Params(now)
	require.NoError(t, err)
	require.Equal(t, "03-10-2026", timezone.Format(params.From))
	require.Equal(t, "10-10-2026", timezone.Format(params.To))

	cfg.FromDate = "01-10-2026"
	params, err = cfg.Params(now)
	require.NoError(t, err)
	require.Equal(t, "01-10-2026", timezone.Format(params.From))
}

func TestClientOptions(t *testing.T) {
	opts := DefaultConfig().ClientOptions(nil)
	require.Equal(t, 15*time.Second, opts.Timeout)
	require.Equal(t, nse.DefaultRetryPolicy(), opts.Retry)
}

func TestDescriptors(t *testing.T) {
	all := DefaultDescriptors(DefaultConfig())
	require.Len(t, all, len(DatasetIds()))
	for i, d := range all {
		require.Equal(t, DatasetIds()[i], d.ID)
		require.NotEmpty(t, d.Schema)
		require.NotEmpty(t, d.Sources)
	}

	selected := SelectDescriptors(all, []string{PreOpen, Events})
	require.Len(t, selected, 2)
	require.Equal(t, Events, selected[0].ID)
	require.Equal(t, PreOpen, selected[1].ID)

	bulk := all[2]
	require.True(t, bulk.Sources[0].Anonymous())
	require.Equal(t, "https://nsearchives.nseindia.com/content/equities/bulk.csv", bulk.Sources[0].URL(nse.FetchParams{}))
}
