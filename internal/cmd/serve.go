package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/planroom/internal/auth"
	"github.com/tomasbasham/planroom/internal/config"
	"github.com/tomasbasham/planroom/internal/index"
	"github.com/tomasbasham/planroom/internal/server"
	"github.com/tomasbasham/planroom/internal/storage"
)

type ServeOptions struct {
	cfg *config.Config

	ConfigPath string
	Debug      bool

	Addr        string
	PublicURL   string
	Backend     string
	Bucket      string
	Dir         string
	SigningKey  string
	SignTTL     time.Duration
	PostgresDSN string

	iooption.IOStreams
}

var (
	serveLong = templates.LongDesc(`
		Start the plan room HTTP server.

		Settings are read from an optional YAML file, then from the environment
		(ADMIN_DOMAIN, ADMIN_PASS, SIGN_URL_TTL_SECONDS, S3_BUCKET, AWS_REGION,
		AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY), then from flags.`)

	serveExample = templates.Examples(`
		# Start on the default address, storing plan sets under ./data
		planroom serve --signing-key "$(openssl rand -hex 32)"

		# Store plan sets in an S3 bucket
		S3_BUCKET=plans AWS_REGION=us-east-2 planroom serve

		# Store plan sets in GCS and keep the index in Postgres
		planroom serve --backend gcs --bucket plans --postgres-dsn postgres://localhost/planroom`)
)

func NewServeOptions(streams iooption.IOStreams) *ServeOptions {
	return &ServeOptions{
		IOStreams: streams,
	}
}

func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the plan room HTTP server",
		Long:    serveLong,
		Example: serveExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&o.ConfigPath, "config", "c", "", "Path to a YAML configuration file")
	cmd.Flags().BoolVar(&o.Debug, "debug", false, "Enable development logging")
	cmd.Flags().StringVarP(&o.Addr, "addr", "a", "", "Address to listen on (default :8080)")
	cmd.Flags().StringVar(&o.PublicURL, "public-url", "", "Externally reachable URL of this server")
	cmd.Flags().StringVarP(&o.Backend, "backend", "b", "", "Storage backend: gcs, s3, nats, webdav, disk or memory")
	cmd.Flags().StringVar(&o.Bucket, "bucket", "", "Bucket name for the gcs, s3 and nats backends")
	cmd.Flags().StringVar(&o.Dir, "dir", "", "Directory for the disk backend")
	cmd.Flags().StringVar(&o.SigningKey, "signing-key", "", "Key signing blob URLs for backends without native signing")
	cmd.Flags().DurationVar(&o.SignTTL, "sign-ttl", 0, "Lifetime of signed URLs (default 10m)")
	cmd.Flags().StringVar(&o.PostgresDSN, "postgres-dsn", "", "Keep the index in Postgres instead of the object store")

	return cmd
}

func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = o.Addr
	}
	if flags.Changed("public-url") {
		cfg.PublicURL = o.PublicURL
	}
	if flags.Changed("backend") {
		cfg.Storage.Backend = o.Backend
	}
	if flags.Changed("bucket") {
		cfg.Storage.Bucket = o.Bucket
	}
	if flags.Changed("dir") {
		cfg.Storage.Disk.Dir = o.Dir
	}
	if flags.Changed("signing-key") {
		cfg.Storage.SigningKey = o.SigningKey
	}
	if flags.Changed("sign-ttl") {
		cfg.SignTTL = o.SignTTL
	}
	if flags.Changed("postgres-dsn") {
		cfg.Index.DSN = o.PostgresDSN
	}

	cfg.Complete()
	o.cfg = cfg
	return nil
}

func (o *ServeOptions) Validate() error {
	return o.cfg.Validate()
}

func (o *ServeOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(o.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialise logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := o.cfg
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	backend, closer, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := storage.Instrument(backend, reg, cfg.Storage.Backend)
	if err != nil {
		return fmt.Errorf("failed to register storage metrics: %w", err)
	}

	var opts []server.Option
	var signer storage.Signer
	if native, ok := backend.(storage.Signer); ok && cfg.SignsNatively() {
		signer = native
	} else {
		hmacSigner, err := storage.NewHMACSigner(cfg.PublicURL, []byte(cfg.Storage.SigningKey))
		if err != nil {
			return err
		}
		signer = hmacSigner
		opts = append(opts,
			server.WithBlobProxy(store, hmacSigner),
			server.WithMaxUploadBytes(cfg.MaxUploadBytes),
		)
	}

	repo, indexCloser, err := openIndex(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer indexCloser.Close()

	gate, err := auth.NewGate(cfg.Auth.Domain, cfg.Auth.Secret)
	if err != nil {
		return err
	}

	if cfg.Auth.TokenKey != "" {
		tokens, err := auth.NewTokenIssuer([]byte(cfg.Auth.TokenKey), cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithTokens(tokens))
	}
	if cfg.RateLimit.PerSecond > 0 {
		opts = append(opts, server.WithRateLimit(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst))
	}

	opts = append(opts,
		server.WithLogger(logger),
		server.WithSignTTL(cfg.SignTTL),
		server.WithRegistry(reg),
		server.WithDebugInfo(cfg.DebugInfo()),
	)

	srv, err := server.New(repo, signer, gate, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialise server: %w", err)
	}

	logger.Info("starting plan room server",
		zap.String("addr", cfg.Addr),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("index", cfg.Index.Type),
		zap.String("admin_domain", gate.Domain()),
		zap.Duration("sign_ttl", cfg.SignTTL),
	)

	err = srv.ListenAndServe(ctx, cfg.Addr)
	logger.Info("shutting down", zap.Error(err))
	return err
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore connects the configured backend. The returned closer releases
// its connections.
func openStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, io.Closer, error) {
	s := cfg.Storage

	switch s.Backend {
	case config.BackendGCS:
		store, err := storage.NewGCSStore(ctx, s.Bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialise GCS store: %w", err)
		}
		return store, store, nil

	case config.BackendS3:
		store, err := storage.NewS3Store(storage.S3Config{
			Endpoint:        s.S3.Endpoint,
			Region:          s.S3.Region,
			Bucket:          s.Bucket,
			AccessKeyID:     s.S3.AccessKeyID,
			SecretAccessKey: s.S3.SecretAccessKey,
			Insecure:        s.S3.Insecure,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialise S3 store: %w", err)
		}
		return store, nopCloser{}, nil

	case config.BackendNATS:
		store, err := storage.NewNATSStore(ctx, s.NATS.URL, s.Bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialise NATS store: %w", err)
		}
		return store, store, nil

	case config.BackendWebDAV:
		store, err := storage.NewWebDAVStore(storage.WebDAVConfig{
			BaseURL:  s.WebDAV.URL,
			BasePath: s.WebDAV.Path,
			Username: s.WebDAV.Username,
			Password: s.WebDAV.Password,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialise WebDAV store: %w", err)
		}
		return store, nopCloser{}, nil

	case config.BackendDisk:
		store, err := storage.NewDiskStore(s.Disk.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialise disk store: %w", err)
		}
		return store, nopCloser{}, nil

	case config.BackendMemory:
		return storage.NewMemoryStore(), nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", s.Backend)
}

// openIndex returns the configured index repository. The document index is
// kept in store alongside the plan sets.
func openIndex(ctx context.Context, cfg *config.Config, store storage.ObjectStore, logger *zap.Logger) (index.Repository, io.Closer, error) {
	if cfg.Index.Type != config.IndexPostgres {
		return index.NewDocumentRepository(store, logger), nopCloser{}, nil
	}

	db, err := sql.Open("postgres", cfg.Index.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	repo := index.NewPostgresRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate postgres index: %w", err)
	}
	return repo, db, nil
}
