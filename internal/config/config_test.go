package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STATE_STORE", "memory")
	t.Setenv("OBJECT_STORE", "supabase")
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")
	t.Setenv("FAL_API_KEY", "fal-key")
}

func TestLoadDefaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, "fal", cfg.DefaultProvider)
	assert.Equal(t, "redis", cfg.CompilerBackend)
	assert.Equal(t, 50, cfg.ClipUnitCostCents)
	assert.Equal(t, 40, cfg.AudioSurchargePercent)
	assert.Equal(t, 5*time.Second, cfg.RunwayPollInterval)
	assert.Equal(t, 10*time.Minute, cfg.ClipTimeout)
	assert.True(t, cfg.WorkerEnabled)
}

func TestLoadOverrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("CLIP_UNIT_COST_CENTS", "120")
	t.Setenv("RUNWAY_MAX_WAIT", "90s")
	t.Setenv("MAX_CONCURRENT_JOBS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.WorkerEnabled)
	assert.Equal(t, 120, cfg.ClipUnitCostCents)
	assert.Equal(t, 90*time.Second, cfg.RunwayMaxWait)
	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"postgres needs url", map[string]string{"STATE_STORE": "postgres", "DATABASE_URL": ""}, "DATABASE_URL"},
		{"unknown state store", map[string]string{"STATE_STORE": "sqlite"}, "STATE_STORE"},
		{"s3 needs bucket", map[string]string{"OBJECT_STORE": "s3"}, "S3_BUCKET"},
		{"unknown compiler", map[string]string{"COMPILER_BACKEND": "kafka"}, "COMPILER_BACKEND"},
		{"no provider", map[string]string{"FAL_API_KEY": ""}, "FAL_API_KEY"},
		{"negative cost", map[string]string{"CLIP_UNIT_COST_CENTS": "-1"}, "non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMinimalEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
