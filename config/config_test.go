package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ohlcv-syncv1/internal/model"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
sqlite:
  path: /tmp/bars.db
  max_conns: 2
provider:
  kind: file
  data_dir: testdata
  timeout: 5s
sync:
  workers: 3
  cron: "0 * * * *"
  expand_history: true
markets:
  tw:
    intervals: [1d, 1h]
    symbols: ["2330", "2317", "2330"]
  crypto:
    symbols: [BTC]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_YAMLAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/tmp/bars.db", cfg.SQLite.Path)
	assert.Equal(t, 2, cfg.SQLite.MaxConns)
	assert.Equal(t, ProviderFile, cfg.Provider.Kind)
	assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 3, cfg.Sync.Workers)
	assert.True(t, cfg.Sync.ExpandHistory)
	assert.Equal(t, 300, cfg.Sync.IndicatorWindow)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "", cfg.Redis.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "data/ohlcv.db", cfg.SQLite.Path)
	assert.Equal(t, ProviderYahoo, cfg.Provider.Kind)
	assert.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.Series())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SQLITE_PATH", "/env/bars.db")
	t.Setenv("SYNC_WORKERS", "8")
	t.Setenv("EXPAND_HISTORY", "false")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("INDICATOR_WINDOW", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "/env/bars.db", cfg.SQLite.Path)
	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.False(t, cfg.Sync.ExpandHistory)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 300, cfg.Sync.IndicatorWindow)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "sqlite: [unclosed"))
	assert.Error(t, err)
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
provider:
  kind: ftp
sync:
  cron: "every minute"
  workers: -1
markets:
  mars:
    intervals: [2d]
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"provider.kind", "sync.cron", "sync.workers", "markets.mars: unknown market", `unknown interval "2d"`} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_FileProviderNeedsDir(t *testing.T) {
	t.Setenv("PROVIDER", "file")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "provider.data_dir")
}

func TestValidate_TelegramNeedsBothFields(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "notify.telegram_token")

	cfg.Notify.TelegramChatID = "-100200"
	assert.NoError(t, cfg.Validate())
}

func TestSeries(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	want := []model.SeriesKey{
		{Market: model.MarketTW, Interval: model.Interval1d, Symbol: "2330"},
		{Market: model.MarketTW, Interval: model.Interval1d, Symbol: "2317"},
		{Market: model.MarketTW, Interval: model.Interval1h, Symbol: "2330"},
		{Market: model.MarketTW, Interval: model.Interval1h, Symbol: "2317"},
		{Market: model.MarketCrypto, Interval: model.Interval1d, Symbol: "BTC"},
	}
	if diff := cmp.Diff(want, cfg.Series()); diff != "" {
		t.Errorf("Series() mismatch (-want +got):\n%s", diff)
	}
}
