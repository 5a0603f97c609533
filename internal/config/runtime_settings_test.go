package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeSettings_Validate(t *testing.T) {
	valid := RuntimeSettings{PassCron: "*/30 * * * *", RecheckCron: "@weekly"}
	require.NoError(t, valid.Validate())

	noRecheck := valid
	noRecheck.RecheckCron = ""
	require.NoError(t, noRecheck.Validate())

	bad := valid
	bad.PassCron = "bad cron"
	require.Error(t, bad.Validate())

	badRecheck := valid
	badRecheck.RecheckCron = "61 * * * *"
	require.Error(t, badRecheck.Validate())
}

func TestRuntimeSettingsStore_UpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	store, err := NewRuntimeSettingsStore(path, RuntimeSettings{PassCron: "@daily"})
	require.NoError(t, err)

	_, err = store.UpdateRuntimeSettings(RuntimeSettings{PassCron: "nope"})
	require.Error(t, err)

	next := RuntimeSettings{PassCron: "0 3 * * *", RecheckCron: "0 4 * * 0"}
	saved, err := store.UpdateRuntimeSettings(next)
	require.NoError(t, err)
	assert.Equal(t, next, saved)

	got, err := store.GetRuntimeSettings()
	require.NoError(t, err)
	assert.Equal(t, next, got)

	onDisk, err := LoadRuntimeSettingsFile(path)
	require.NoError(t, err)
	assert.Equal(t, next, onDisk)
}

func TestWithRuntimeSettings_OverridesSchedule(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	cfg, err := NewFromEnv(WithRuntimeSettings(RuntimeSettings{PassCron: "0 1 * * *"}))
	require.NoError(t, err)
	assert.Equal(t, "0 1 * * *", cfg.Schedule.PassCron)
	assert.Empty(t, cfg.Schedule.RecheckCron)
	assert.Equal(t, filepath.Join(cfg.System.DataDir, "settings.json"), cfg.RuntimeSettingsPath())
}
