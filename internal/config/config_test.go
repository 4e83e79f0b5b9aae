package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BACKEND_BASE_URL", "http://workflow.local")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "redis", cfg.EventsBackend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 300*time.Millisecond, cfg.Run.PollInterval)
	assert.Equal(t, 24*time.Hour, cfg.Run.SnapshotTTL)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "/api/workflow_api/trigger/test_run", cfg.Backend.TriggerPath)
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
	assert.Equal(t, int64(10000), cfg.Events.MaxLen)
	assert.Empty(t, cfg.Events.ConsumerGroup)
	assert.Empty(t, cfg.APIToken)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BACKEND_KIND", "memory")
	t.Setenv("EVENTS_BACKEND", "memory")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("POLL_INTERVAL", "1s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Run.PollInterval)
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing base url", env: map[string]string{}, wantErr: "backend base URL is required"},
		{name: "bad port", env: map[string]string{"BACKEND_BASE_URL": "http://x", "TESTRUN_HTTP_PORT": "0"}, wantErr: "invalid HTTP port"},
		{name: "bad events backend", env: map[string]string{"BACKEND_BASE_URL": "http://x", "EVENTS_BACKEND": "kafka"}, wantErr: "unsupported events backend"},
		{name: "bad log level", env: map[string]string{"BACKEND_BASE_URL": "http://x", "LOG_LEVEL": "trace"}, wantErr: "invalid log level"},
		{name: "bad poll interval", env: map[string]string{"BACKEND_BASE_URL": "http://x", "POLL_INTERVAL": "0s"}, wantErr: "poll interval must be positive"},
		{name: "bad backend kind", env: map[string]string{"BACKEND_KIND": "grpc"}, wantErr: "unsupported backend kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BACKEND_BASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
