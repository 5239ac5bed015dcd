package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/beancrawl/internal/config"
	"github.com/jonesrussell/beancrawl/internal/domain"
)

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.StorageMemory, cfg.Storage)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 4, cfg.Dispatcher.Workers)
	assert.Equal(t, 2*time.Second, cfg.Dispatcher.PollInterval)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 16*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Retry.BudgetBackoff)
	assert.Equal(t, 30, cfg.RateLimit.Global.PerMinute)
	assert.Equal(t, 6, cfg.RateLimit.PerRoaster.PerMinute)
	assert.Equal(t, 200, cfg.RateLimit.PerRoaster.PerDay)
	assert.Equal(t, 2*time.Minute, cfg.FetchTimeout)
	assert.False(t, cfg.Ops.Enabled)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
storage: postgres
database:
  host: db.internal
  port: "5433"
redis:
  addr: localhost:6379
dispatcher:
  workers: 8
roasters:
  - id: sey
    name: Sey Coffee
    base_url: https://www.seycoffee.com/
    cadence_full: "0 */6 * * *"
    cadence_price_only: "*/30 * * * *"
    budget_limit: 120
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.StoragePostgres, cfg.Storage)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "5433", cfg.Database.Port)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 8, cfg.Dispatcher.Workers)
	require.Len(t, cfg.Roasters, 1)
	assert.Equal(t, "sey", cfg.Roasters[0].ID)
	assert.Equal(t, 120, cfg.Roasters[0].BudgetLimit)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Storage(t *testing.T) {
	path := writeConfig(t, "storage: sqlite\n")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage")
}

func TestValidate_Roasters(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing id",
			yaml: "roasters:\n  - base_url: https://a.example.com\n",
			want: "id is required",
		},
		{
			name: "duplicate id",
			yaml: "roasters:\n  - id: a\n    base_url: https://a.example.com\n  - id: a\n    base_url: https://b.example.com\n",
			want: "duplicate id",
		},
		{
			name: "missing base url",
			yaml: "roasters:\n  - id: a\n",
			want: "base_url is required",
		},
		{
			name: "relative base url",
			yaml: "roasters:\n  - id: a\n    base_url: www.example.com\n",
			want: "not an absolute URL",
		},
		{
			name: "negative budget",
			yaml: "roasters:\n  - id: a\n    base_url: https://a.example.com\n    budget_limit: -5\n",
			want: "budget_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_MaxAttempts(t *testing.T) {
	path := writeConfig(t, "retry:\n  max_attempts: 0\n")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
}

func TestRoasterConfig_ToDomain(t *testing.T) {
	r := config.RoasterConfig{
		ID:          "sey",
		Name:        "Sey Coffee",
		BaseURL:     "https://www.seycoffee.com/",
		CadenceFull: "0 */6 * * *",
		BudgetLimit: 120,
	}

	d := r.ToDomain()
	assert.Equal(t, "https://www.seycoffee.com", d.BaseURL, "trailing slash is trimmed")
	assert.Equal(t, domain.DefaultConcurrencyLimit, d.ConcurrencyLimit)
	assert.True(t, d.FallbackEnabled)
	assert.Equal(t, 120, d.BudgetLimit)
	assert.Equal(t, 120, d.BudgetRemaining, "new roasters start with a full budget")
}

func TestRoasterConfig_ToDomain_ExplicitConcurrency(t *testing.T) {
	r := config.RoasterConfig{ID: "a", BaseURL: "https://a.example.com", ConcurrencyLimit: 2}
	assert.Equal(t, 2, r.ToDomain().ConcurrencyLimit)
}
