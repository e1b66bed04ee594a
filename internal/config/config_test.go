package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.Auth.Domain = "maciasspecialty.com"
	cfg.Auth.Secret = "s3cret"
	cfg.Storage.SigningKey = "0123456789abcdef"
	cfg.Complete()
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	cfg.Complete()

	assert.Equal(t, BackendDisk, cfg.Storage.Backend)
	assert.Equal(t, IndexDocument, cfg.Index.Type)
	assert.Equal(t, 10*time.Minute, cfg.SignTTL)
	assert.False(t, cfg.SignsNatively())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
auth:
  domain: maciasspecialty.com
  secret: from-file
  tokenTTL: 5m
storage:
  backend: gcs
  bucket: plans
signTTL: 2m
rateLimit:
  perSecond: 1.5
  burst: 3
`), 0o644))

	t.Setenv("ADMIN_PASS", "from-env")
	t.Setenv("SIGN_URL_TTL_SECONDS", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Complete()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "maciasspecialty.com", cfg.Auth.Domain)
	assert.Equal(t, "from-env", cfg.Auth.Secret, "environment overrides the file")
	assert.Equal(t, 5*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, BackendGCS, cfg.Storage.Backend)
	assert.Equal(t, 2*time.Minute, cfg.SignTTL)
	assert.Equal(t, RateLimit{PerSecond: 1.5, Burst: 3}, cfg.RateLimit)
	assert.Equal(t, "http://localhost:8080", cfg.PublicURL, "unset keys keep defaults")
	require.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("signTTL: [1, 2]\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"ADMIN_DOMAIN":          "maciasspecialty.com",
		"ADMIN_PASS":            "s3cret",
		"SIGN_URL_TTL_SECONDS":  "600",
		"S3_BUCKET":             "plans",
		"AWS_REGION":            "us-east-2",
		"AWS_ACCESS_KEY_ID":     "AKIA",
		"AWS_SECRET_ACCESS_KEY": "secret",
	}))
	require.NoError(t, err)
	cfg.Complete()

	assert.Equal(t, BackendS3, cfg.Storage.Backend, "a bucket selects S3")
	assert.Equal(t, "plans", cfg.Storage.Bucket)
	assert.Equal(t, "us-east-2", cfg.Storage.S3.Region)
	assert.Equal(t, 600*time.Second, cfg.SignTTL)
	assert.True(t, cfg.SignsNatively())
	require.NoError(t, cfg.Validate())

	err = Default().ApplyEnv(env(map[string]string{"SIGN_URL_TTL_SECONDS": "ten"}))
	assert.ErrorContains(t, err, "SIGN_URL_TTL_SECONDS")
}

func TestCompleteSelectsPostgres(t *testing.T) {
	cfg := validConfig()
	cfg.Index = IndexConfig{DSN: "postgres://localhost/planroom"}
	cfg.Complete()

	assert.Equal(t, IndexPostgres, cfg.Index.Type)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing domain", func(c *Config) { c.Auth.Domain = "" }, "ADMIN_DOMAIN"},
		{"missing secret", func(c *Config) { c.Auth.Secret = " " }, "ADMIN_PASS"},
		{"zero ttl", func(c *Config) { c.SignTTL = 0 }, "sign TTL"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }, `unknown storage backend "ftp"`},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "requires a bucket"},
		{"short signing key", func(c *Config) { c.Storage.SigningKey = "short" }, "signing key"},
		{"webdav without url", func(c *Config) { c.Storage.Backend = BackendWebDAV }, "requires a URL"},
		{"postgres without dsn", func(c *Config) { c.Index.Type = IndexPostgres }, "requires a DSN"},
		{"unknown index", func(c *Config) { c.Index.Type = "redis" }, `unknown index type "redis"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	require.NoError(t, validConfig().Validate())
}

func TestDebugInfoHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.S3.SecretAccessKey = "very-secret"

	info := cfg.DebugInfo()
	assert.Equal(t, "maciasspecialty.com", info["ADMIN_DOMAIN"])
	assert.Equal(t, true, info["HAS_ADMIN_PASS"])
	assert.Equal(t, true, info["AWS_SECRET_ACCESS_KEY"])
	assert.Equal(t, 600, info["SIGN_URL_TTL_SECONDS"])
	for _, v := range info {
		assert.NotEqual(t, "s3cret", v)
		assert.NotEqual(t, "very-secret", v)
	}
}
