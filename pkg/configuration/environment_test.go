package configuration

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUse_Defaults(t *testing.T) {
	t.Setenv("TRACKER_URL", "http://tracker.local")
	t.Setenv("TRACKER_API_KEY", "secret")

	cfg, err := Use()
	require.NoError(t, err)
	require.Equal(t, "Worklog", cfg.SheetName)
	require.Equal(t, ModeFullImport, cfg.Mode)
	require.Equal(t, "Task", cfg.DefaultTaskType)
	require.Equal(t, "Member", cfg.MemberRoleName)
	require.False(t, cfg.DryRun)
	require.False(t, cfg.AutoConfirm)
}

func TestUse_InvalidMode(t *testing.T) {
	t.Setenv("MODE", "sideways")

	_, err := Use()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid MODE")
}

func TestMode_Valid(t *testing.T) {
	for _, m := range []Mode{ModeFullImport, ModeDatesOnly, ModeAnalyze, ModeLoggedBy} {
		require.True(t, m.Valid(), string(m))
	}
	require.False(t, Mode("").Valid())
}

func TestLogger_LevelFallback(t *testing.T) {
	cfg := &Configuration{LogLevel: "not-a-level"}
	logger := cfg.Logger()
	require.NotNil(t, logger)
	require.Same(t, logger, cfg.Logger())
}
