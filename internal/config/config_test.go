package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.ParseDeadline)
	assert.Equal(t, 24*time.Hour, cfg.Dedup.Window())
	assert.Equal(t, int64(100<<20), cfg.Upload.MaxBytes())
	assert.Equal(t, "reapply", cfg.Extract.EditMergeStrategy)
	assert.False(t, cfg.Audit.PresetEnabled)
	assert.Empty(t, cfg.LLM.Chain())
	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DOCPIPE_QUEUE_WORKERS", "9")
	t.Setenv("DOCPIPE_PIPELINE_RERUN_LOCK_TTL", "2m")
	t.Setenv("DOCPIPE_CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("DOCPIPE_LLM_PRIMARY_PROVIDER", "claude")
	t.Setenv("DOCPIPE_LLM_PRIMARY_API_KEY", "sk-test")
	t.Setenv("DOCPIPE_S3_SECRET_KEY", "shh")
	t.Setenv("DOCPIPE_AUDIT_PRESET_ENABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Queue.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.RerunLockTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "sk-test", cfg.LLM.Primary.APIKey)
	assert.Equal(t, "shh", cfg.S3.SecretKey)
	assert.True(t, cfg.Audit.PresetEnabled)
}

func TestLoad_PlatformPort(t *testing.T) {
	t.Setenv("PORT", "9090")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Port)

	t.Setenv("DOCPIPE_SERVER_PORT", ":7000")
	cfg, err = config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Port)
}

func TestLLMConfig_Chain(t *testing.T) {
	cfg := config.LLMConfig{
		Primary:  config.LLMProviderConfig{Provider: "claude", APIKey: "sk-primary"},
		Tertiary: config.LLMProviderConfig{Provider: "gemini", APIKey: "gk"},
	}

	chain := cfg.Chain()

	require.Len(t, chain, 2)
	assert.Equal(t, "claude", chain[0].Provider)
	assert.Equal(t, "gemini", chain[1].Provider)
}

func TestDBConfig_DSN(t *testing.T) {
	d := config.DBConfig{User: "u", Password: "p", Host: "db", Port: 5433, Name: "docs", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db:5433/docs?sslmode=require", d.DSN())
}
