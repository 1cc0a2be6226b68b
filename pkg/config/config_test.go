package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deptex/watchtower/pkg/constants"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		constants.EnvRedisURL, constants.EnvRedisToken,
		constants.EnvQueueName, constants.EnvNewVersionQueueName, constants.EnvBatchVersionQueue,
		constants.EnvNodeEnv, constants.EnvDatabaseURL, constants.EnvPRServiceURL,
		constants.EnvNPMRegistryURL,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaultsOffProduction(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultQueueName+constants.LocalQueueSuffix, cfg.QueueName)
	assert.Equal(t, constants.DefaultNewVersionQueueName+constants.LocalQueueSuffix, cfg.NewVersionQueueName)
	assert.Equal(t, constants.DefaultBatchVersionQueue+constants.LocalQueueSuffix, cfg.BatchQueueName)
	assert.Equal(t, constants.DefaultNPMRegistryURL, cfg.NPMRegistryURL)
	assert.False(t, cfg.WorkerEnabled())
}

func TestLoadProductionQueueNames(t *testing.T) {
	clearEnv(t)
	t.Setenv(constants.EnvNodeEnv, "production")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultQueueName, cfg.QueueName)
	assert.True(t, cfg.IsProduction())
}

func TestExplicitQueueNameUsedVerbatim(t *testing.T) {
	clearEnv(t)
	t.Setenv(constants.EnvQueueName, "custom-queue")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "custom-queue", cfg.QueueName)
}

func TestTestTierDisablesWorker(t *testing.T) {
	clearEnv(t)
	t.Setenv(constants.EnvRedisURL, "rediss://example.upstash.io:6379")
	t.Setenv(constants.EnvNodeEnv, "test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.IsTest())
	assert.False(t, cfg.WorkerEnabled())
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "watchtower.yml")
	require.NoError(t, os.WriteFile(path, []byte("redis_url: rediss://file.example\nqueue_name: file-queue\n"), 0o644))

	t.Setenv(constants.EnvRedisURL, "rediss://env.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "rediss://env.example", cfg.RedisURL)
	assert.Equal(t, "file-queue", cfg.QueueName)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing redis",
			cfg:     Config{DatabaseURL: "postgres://localhost/watchtower"},
			wantErr: "queue credentials",
		},
		{
			name:    "missing database",
			cfg:     Config{RedisURL: "rediss://example"},
			wantErr: "storage configuration",
		},
		{
			name: "complete",
			cfg:  Config{RedisURL: "rediss://example", DatabaseURL: "postgres://localhost/watchtower"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
