// Package config holds the settings of the planroom server. Settings are
// layered: defaults, then an optional YAML file, then the environment
// variables inherited from the S3 deployment, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendGCS    = "gcs"
	BackendS3     = "s3"
	BackendNATS   = "nats"
	BackendWebDAV = "webdav"
	BackendDisk   = "disk"
	BackendMemory = "memory"
)

// Index types.
const (
	IndexDocument = "document"
	IndexPostgres = "postgres"
)

// Config is the complete server configuration.
type Config struct {
	Addr string `yaml:"addr"`

	// PublicURL is the externally reachable address of the server. URLs for
	// backends that cannot sign natively are rooted here.
	PublicURL string `yaml:"publicURL"`

	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Index   IndexConfig   `yaml:"index"`

	SignTTL        time.Duration `yaml:"signTTL"`
	MaxUploadBytes int64         `yaml:"maxUploadBytes"`
	RateLimit      RateLimit     `yaml:"rateLimit"`
}

// AuthConfig configures the upload gate and session tokens.
type AuthConfig struct {
	Domain string `yaml:"domain"`
	Secret string `yaml:"secret"`

	// TokenKey signs session tokens. Session tokens are disabled when empty.
	TokenKey string        `yaml:"tokenKey"`
	TokenTTL time.Duration `yaml:"tokenTTL"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Bucket  string `yaml:"bucket"`

	// SigningKey signs blob URLs for backends without native signing.
	SigningKey string `yaml:"signingKey"`

	S3     S3Config     `yaml:"s3"`
	Disk   DiskConfig   `yaml:"disk"`
	WebDAV WebDAVConfig `yaml:"webdav"`
	NATS   NATSConfig   `yaml:"nats"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	Insecure        bool   `yaml:"insecure"`
}

type DiskConfig struct {
	Dir string `yaml:"dir"`
}

type WebDAVConfig struct {
	URL      string `yaml:"url"`
	Path     string `yaml:"path"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// IndexConfig selects where the index is kept.
type IndexConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// RateLimit bounds calls to gated endpoints across all callers. A zero
// PerSecond disables limiting.
type RateLimit struct {
	PerSecond float64 `yaml:"perSecond"`
	Burst     int     `yaml:"burst"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Addr:      ":8080",
		PublicURL: "http://localhost:8080",
		Storage: StorageConfig{
			Disk: DiskConfig{Dir: "data"},
			NATS: NATSConfig{URL: "nats://127.0.0.1:4222"},
		},
		SignTTL:        10 * time.Minute,
		MaxUploadBytes: 512 << 20,
		RateLimit:      RateLimit{PerSecond: 5, Burst: 20},
	}
}

// Load returns the defaults overlaid with the YAML file at path, if any, and
// then with the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment variables read by
// lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	str("ADMIN_DOMAIN", &c.Auth.Domain)
	str("ADMIN_PASS", &c.Auth.Secret)
	str("PLANROOM_TOKEN_KEY", &c.Auth.TokenKey)
	str("PLANROOM_PUBLIC_URL", &c.PublicURL)
	str("PLANROOM_SIGNING_KEY", &c.Storage.SigningKey)
	str("PLANROOM_POSTGRES_DSN", &c.Index.DSN)
	str("S3_BUCKET", &c.Storage.Bucket)
	str("AWS_REGION", &c.Storage.S3.Region)
	str("AWS_ACCESS_KEY_ID", &c.Storage.S3.AccessKeyID)
	str("AWS_SECRET_ACCESS_KEY", &c.Storage.S3.SecretAccessKey)

	if v, ok := lookup("SIGN_URL_TTL_SECONDS"); ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SIGN_URL_TTL_SECONDS: %w", err)
		}
		c.SignTTL = time.Duration(secs) * time.Second
	}
	return nil
}

// Complete fills settings derived from others. Without an explicit backend a
// configured bucket selects S3, the historical default, and local
// disk is used otherwise. A DSN without an explicit index type selects
// Postgres.
func (c *Config) Complete() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		if c.Storage.Bucket != "" {
			c.Storage.Backend = BackendS3
		} else {
			c.Storage.Backend = BackendDisk
		}
	}

	c.Index.Type = strings.ToLower(strings.TrimSpace(c.Index.Type))
	if c.Index.Type == "" {
		c.Index.Type = IndexDocument
		if c.Index.DSN != "" {
			c.Index.Type = IndexPostgres
		}
	}
}

// Validate reports every problem that prevents the server from starting.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Auth.Domain) == "" {
		errs = append(errs, errors.New("admin email domain is required (ADMIN_DOMAIN)"))
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("admin secret is required (ADMIN_PASS)"))
	}
	if c.SignTTL <= 0 {
		errs = append(errs, fmt.Errorf("sign TTL must be positive, got %s", c.SignTTL))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes))
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}

	switch c.Storage.Backend {
	case BackendGCS, BackendS3:
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage backend %q requires a bucket", c.Storage.Backend))
		}
	case BackendNATS:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New(`storage backend "nats" requires a bucket`))
		}
		errs = append(errs, c.requireSigningKey())
	case BackendWebDAV:
		if c.Storage.WebDAV.URL == "" {
			errs = append(errs, errors.New(`storage backend "webdav" requires a URL`))
		}
		errs = append(errs, c.requireSigningKey())
	case BackendDisk:
		if c.Storage.Disk.Dir == "" {
			errs = append(errs, errors.New(`storage backend "disk" requires a directory`))
		}
		errs = append(errs, c.requireSigningKey())
	case BackendMemory:
		errs = append(errs, c.requireSigningKey())
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Index.Type {
	case IndexDocument:
	case IndexPostgres:
		if c.Index.DSN == "" {
			errs = append(errs, errors.New("postgres index requires a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index type %q", c.Index.Type))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SignsNatively reports whether the backend issues its own signed URLs.
func (c *Config) SignsNatively() bool {
	return c.Storage.Backend == BackendGCS || c.Storage.Backend == BackendS3
}

func (c *Config) requireSigningKey() error {
	if len(c.Storage.SigningKey) < 16 {
		return fmt.Errorf("storage backend %q requires a signing key of at least 16 bytes (PLANROOM_SIGNING_KEY)", c.Storage.Backend)
	}
	return nil
}

// DebugInfo reports which settings are present without revealing secrets.
func (c *Config) DebugInfo() map[string]any {
	return map[string]any{
		"ADMIN_DOMAIN":          c.Auth.Domain,
		"HAS_ADMIN_PASS":        c.Auth.Secret != "",
		"SIGN_URL_TTL_SECONDS":  int(c.SignTTL / time.Second),
		"STORAGE_BACKEND":       c.Storage.Backend,
		"S3_BUCKET":             c.Storage.Bucket != "",
		"AWS_REGION":            c.Storage.S3.Region != "",
		"AWS_ACCESS_KEY_ID":     c.Storage.S3.AccessKeyID != "",
		"AWS_SECRET_ACCESS_KEY": c.Storage.S3.SecretAccessKey != "",
		"INDEX":                 c.Index.Type,
		"SESSION_TOKENS":        c.Auth.TokenKey != "",
	}
}
