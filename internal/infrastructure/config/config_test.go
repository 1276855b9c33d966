package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/charter-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
	"github.com/eshaffer321/charter-reconcile/internal/domain/normalizer"
)

const fullConfig = `
storage:
  database_path: "charters.db"
matching:
  amount_tolerance: "0.01"
  date_tolerance_days: 5
  fuzzy_amount_pct: "3"
  order: [exact, special_rules, approximate_date]
  rules:
    - name: marina-fee
      pattern: "marina"
      amount: "150.00"
      date_tolerance_days: 10
    - name: any-amount
      pattern: "harbor"
scoring:
  auto_apply_threshold: 4
  secondary_feeds: [bank_statement, receipt]
  corroboration_window_days: 2
duplicates:
  window_days: 2
  repeat_cluster_size: 4
normalizer:
  rounding: half_up
  key_pattern: 'CH-\d+'
allocation:
  tolerance: "0.01"
batch:
  workers: 8
  timeout: 90s
locker:
  backend: redis
  redis_addr: "redis:6379"
  expiry: 15s
api:
  addr: ":9000"
  allowed_origins: ["http://localhost:3000"]
observability:
  logging:
    level: debug
    format: json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "charters.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 8, cfg.Batch.Workers)
	assert.Equal(t, 90*time.Second, cfg.Batch.Timeout)
	assert.Equal(t, "redis", cfg.Locker.Backend)
	assert.Equal(t, 15*time.Second, cfg.Locker.Expiry)
	assert.Equal(t, ":9000", cfg.API.Addr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.API.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
	assert.Equal(t, "json", cfg.Observability.Logging.Format)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "storage:\n  database_path: x.db\n"))
	require.NoError(t, err)

	assert.Equal(t, "x.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Batch.Timeout)
	assert.Equal(t, "memory", cfg.Locker.Backend)
	assert.Equal(t, ":8085", cfg.API.Addr)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "storage: [unclosed"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RECONCILE_DB_PATH", "test.db")
	t.Setenv("RECONCILE_WORKERS", "2")
	t.Setenv("RECONCILE_BATCH_TIMEOUT", "30s")
	t.Setenv("RECONCILE_LOCKER", "redis")
	t.Setenv("RECONCILE_ALLOWED_ORIGINS", "http://a,http://b")

	cfg := LoadFromEnv()
	assert.NotNil(t, cfg)
	assert.Equal(t, "test.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 2, cfg.Batch.Workers)
	assert.Equal(t, 30*time.Second, cfg.Batch.Timeout)
	assert.Equal(t, "redis", cfg.Locker.Backend)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.API.AllowedOrigins)
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("RECONCILE_DB_PATH", "")
	t.Setenv("RECONCILE_WORKERS", "not-a-number")

	cfg := LoadFromEnv()
	assert.Equal(t, "reconcile.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Equal(t, "memory", cfg.Locker.Backend)
}

func TestLoadOrEnv_FallbackToEnv(t *testing.T) {
	t.Setenv("RECONCILE_DB_PATH", "fallback.db")

	// Try to load from non-existent file
	cfg := LoadOrEnv_WithPath("nonexistent.yaml")
	assert.NotNil(t, cfg)
	assert.Equal(t, "fallback.db", cfg.Storage.DatabasePath)
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PATH", "expanded.db")
	t.Setenv("TEST_REDIS_PASSWORD", "s3cret")

	cfg, err := Load(writeConfig(t, `
storage:
  database_path: "${TEST_DB_PATH}"
locker:
  redis_password: "${TEST_REDIS_PASSWORD}"
`))
	require.NoError(t, err)
	assert.Equal(t, "expanded.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "s3cret", cfg.Locker.RedisPassword)
}

func TestDomainConfigs_FromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	m, err := cfg.MatcherConfig()
	require.NoError(t, err)
	assert.True(t, m.AmountTolerance.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, 5, m.DateToleranceDays)
	assert.True(t, m.FuzzyAmountPct.Equal(decimal.NewFromInt(3)))
	assert.True(t, m.IdentityAmountTolerancePct.Equal(decimal.NewFromInt(10)), "unset value keeps default")
	assert.Equal(t, []string{matcher.StrategyExact, matcher.StrategySpecialRules, matcher.StrategyApproximateDate}, m.Order)
	require.Len(t, m.Rules, 2)
	require.NotNil(t, m.Rules[0].Amount)
	assert.True(t, m.Rules[0].Amount.Equal(decimal.NewFromInt(150)))
	assert.Nil(t, m.Rules[1].Amount)

	s, err := cfg.ScorerConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, s.AutoApplyThreshold)
	assert.Equal(t, []model.FeedType{model.FeedBankStatement, model.FeedReceipt}, s.SecondaryFeeds)
	assert.Equal(t, 2, s.CorroborationWindowDays)

	d := cfg.DuplicatesConfig()
	assert.Equal(t, 2, d.WindowDays)
	assert.Equal(t, 4, d.RepeatClusterSize)

	n, err := cfg.NormalizerConfig()
	require.NoError(t, err)
	assert.Equal(t, normalizer.RoundHalfUp, n.Rounding)
	assert.Equal(t, `CH-\d+`, n.KeyPattern)
	assert.Equal(t, int32(2), n.MinorUnitPlaces)

	a, err := cfg.AllocatorConfig()
	require.NoError(t, err)
	assert.True(t, a.Tolerance.Equal(decimal.RequireFromString("0.01")))

	// The built matcher config must be usable as-is
	_, err = matcher.NewMatcher(m, nil)
	assert.NoError(t, err)
}

func TestDomainConfigs_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	m, err := cfg.MatcherConfig()
	require.NoError(t, err)
	assert.Equal(t, matcher.DefaultConfig().Order, m.Order)
	assert.True(t, m.AmountTolerance.IsZero())

	s, err := cfg.ScorerConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, s.AutoApplyThreshold)

	a, err := cfg.AllocatorConfig()
	require.NoError(t, err)
	assert.True(t, a.Tolerance.Equal(model.MinorUnit))

	b, err := cfg.BalanceTolerance()
	require.NoError(t, err)
	assert.True(t, b.Equal(model.MinorUnit))
}

func TestDomainConfigs_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(c *Config) error
	}{
		{"bad tolerance", "matching:\n  amount_tolerance: abc\n", func(c *Config) error { _, err := c.MatcherConfig(); return err }},
		{"negative tolerance", "allocation:\n  tolerance: \"-1\"\n", func(c *Config) error { _, err := c.AllocatorConfig(); return err }},
		{"bad balance tolerance", "allocation:\n  balance_tolerance: lots\n", func(c *Config) error { _, err := c.BalanceTolerance(); return err }},
		{"bad rule amount", "matching:\n  rules:\n    - name: x\n      pattern: y\n      amount: nope\n", func(c *Config) error { _, err := c.MatcherConfig(); return err }},
		{"threshold out of range", "scoring:\n  auto_apply_threshold: 9\n", func(c *Config) error { _, err := c.ScorerConfig(); return err }},
		{"unknown feed", "scoring:\n  secondary_feeds: [fax]\n", func(c *Config) error { _, err := c.ScorerConfig(); return err }},
		{"unknown rounding", "normalizer:\n  rounding: banker\n", func(c *Config) error { _, err := c.NormalizerConfig(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.content))
			require.NoError(t, err)
			assert.Error(t, tt.check(cfg))
		})
	}
}
