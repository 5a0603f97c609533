package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("WIKI_OAUTH_TOKEN", "token")
	t.Setenv("DATA_DIR", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "uk", cfg.Wiki.Lang)
	assert.Equal(t, 30*time.Second, cfg.Wiki.Timeout)
	assert.Equal(t, []int{0}, cfg.Backlog.Namespaces)
	assert.True(t, cfg.Backlog.Annotate)
	assert.False(t, cfg.Backlog.DryRun)
	assert.Equal(t, CacheSQLite, cfg.Cache.Backend)
	assert.Equal(t, 168*time.Hour, cfg.Cache.PositiveTTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.NegativeTTL)
	assert.Equal(t, "@daily", cfg.Schedule.PassCron)
	assert.Equal(t, filepath.Join("/app/data", "iwbot.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join("/app/data", "turk.json"), cfg.TurkPath())
}

func TestNewFromEnv_FromEnv(t *testing.T) {
	t.Setenv("WIKI_OAUTH_TOKEN", "token")
	t.Setenv("DATA_DIR", "/tmp/iw")
	t.Setenv("TURK_FILE", "/etc/iw/turk.json")
	t.Setenv("BACKLOG_SEARCH", "a, b ,,c")
	t.Setenv("BACKLOG_NAMESPACES", "0,10")
	t.Setenv("SKIP_PREFIXES", "Користувач:")
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("CACHE_NEGATIVE_TTL", "3600")
	t.Setenv("WIKI_TIMEOUT", "5s")
	t.Setenv("LOOP", "1")
	t.Setenv("LINK_POLICY", "redirect-target")

	cfg, err := NewFromEnv(WithMaxPages(7))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, cfg.Backlog.Searches)
	assert.Equal(t, []int{0, 10}, cfg.Backlog.Namespaces)
	assert.Equal(t, []string{"Користувач:"}, cfg.Backlog.SkipPrefixes)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.NegativeTTL)
	assert.Equal(t, 5*time.Second, cfg.Wiki.Timeout)
	assert.True(t, cfg.Backlog.Loop)
	assert.Equal(t, 7, cfg.Backlog.MaxPages)
	assert.Equal(t, "/etc/iw/turk.json", cfg.TurkPath())
	assert.Equal(t, filepath.Join("/tmp/iw", "iwbot.db"), cfg.DBPath())
}

func TestNewFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"token required", map[string]string{"WIKI_OAUTH_TOKEN": ""}},
		{"unsupported lang", map[string]string{"WIKI_LANG": "xx"}},
		{"registry lang", map[string]string{"WIKI_LANG": "d"}},
		{"bad cron", map[string]string{"PASS_CRON": "every day"}},
		{"bad backend", map[string]string{"CACHE_BACKEND": "memcached"}},
		{"bad policy", map[string]string{"LINK_POLICY": "sometimes"}},
		{"api url without lang", map[string]string{"WIKI_API_URL": "https://uk.wikipedia.org/w/api.php"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WIKI_OAUTH_TOKEN", "token")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewFromEnv()
			require.Error(t, err)
		})
	}
}

func TestNewFromEnv_DryRunNeedsNoToken(t *testing.T) {
	t.Setenv("WIKI_OAUTH_TOKEN", "")
	cfg, err := NewFromEnv(WithDryRun(true))
	require.NoError(t, err)
	assert.True(t, cfg.Backlog.DryRun)
}
