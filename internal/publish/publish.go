// Package publish uploads plan set files and registers them in the index.
// Publishing a file moves through three steps:
//
//	sign → upload → register.
//
// A file whose upload fails is never registered. A file that uploads but
// fails to register leaves an orphaned object; publishing it again is safe.
package publish

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tomasbasham/planroom/internal/client"
	"github.com/tomasbasham/planroom/internal/plan"
)

// DefaultVersion is recorded when no version is given.
const DefaultVersion = "v1"

var pdfSuffix = regexp.MustCompile(`\.[Pp][Dd][Ff]$`)

// API is the subset of the planroom API used to publish.
type API interface {
	IssueUploadURL(ctx context.Context, folder, filename, contentType string) (*client.SignedURL, error)
	Upload(ctx context.Context, signed *client.SignedURL, payload io.Reader, size int64) error
	Register(ctx context.Context, rec plan.Record) (int, error)
}

// Options describes one file to publish. Empty metadata fields take the
// defaults applied by Record.
type Options struct {
	Path        string
	Folder      string
	ContentType string

	ID       string
	Title    string
	District string
	CSJ      string
	Highway  string
	Version  string
	LetDate  string
	Tags     []string
}

// Result describes a published file.
type Result struct {
	Record plan.Record
	Count  int
}

// Publisher publishes files through an API.
type Publisher struct {
	api    API
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Publisher using api.
func New(api API, logger *zap.Logger) *Publisher {
	return &Publisher{api: api, logger: logger, now: time.Now}
}

// Publish uploads the file at opts.Path and registers it. When no content
// type is given it is detected from the file's contents.
func (p *Publisher) Publish(ctx context.Context, opts Options) (*Result, error) {
	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("publish: %s is a directory", opts.Path)
	}

	contentType := opts.ContentType
	if contentType == "" {
		mt, err := mimetype.DetectReader(f)
		if err != nil {
			return nil, fmt.Errorf("publish: detect content type: %w", err)
		}
		contentType = mt.String()
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("publish: %w", err)
		}
	}

	filename := filepath.Base(opts.Path)
	signed, err := p.api.IssueUploadURL(ctx, opts.Folder, filename, contentType)
	if err != nil {
		return nil, fmt.Errorf("publish: upload URL for %s: %w", filename, err)
	}

	p.logger.Info("uploading",
		zap.String("file", opts.Path),
		zap.String("key", signed.Key),
		zap.String("content_type", signed.ContentType),
		zap.Int64("bytes", info.Size()),
	)
	if err := p.api.Upload(ctx, signed, f, info.Size()); err != nil {
		return nil, fmt.Errorf("publish: upload %s: %w", filename, err)
	}

	rec := p.Record(opts, signed.Key, info.Size())
	count, err := p.api.Register(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("publish: register %s: %w", filename, err)
	}

	p.logger.Info("registered", zap.String("id", rec.ID), zap.String("key", rec.StorageKey), zap.Int("count", count))
	return &Result{Record: rec, Count: count}, nil
}

// PublishAll publishes every file in files, at most limit at a time. It
// stops starting new files after the first failure and returns that error
// alongside the files published so far.
func (p *Publisher) PublishAll(ctx context.Context, files []Options, limit int) ([]*Result, error) {
	results := make([]*Result, len(files))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, opts := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := p.Publish(ctx, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()

	done := make([]*Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			done = append(done, r)
		}
	}
	return done, err
}

// Record builds the index record for a file stored under key. Unset fields
// default to a fresh uuid for the id, the filename without its .pdf
// extension for the title, today's UTC date for the let date and v1 for the
// version.
func (p *Publisher) Record(opts Options, key string, size int64) plan.Record {
	now := p.now().UTC()

	rec := plan.Record{
		ID:         opts.ID,
		Title:      opts.Title,
		District:   opts.District,
		CSJ:        opts.CSJ,
		Highway:    opts.Highway,
		Version:    opts.Version,
		LetDate:    opts.LetDate,
		Size:       FormatSize(size),
		Tags:       opts.Tags,
		StorageKey: key,
		CreatedAt:  now,
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Title == "" {
		rec.Title = pdfSuffix.ReplaceAllString(filepath.Base(opts.Path), "")
	}
	if rec.Version == "" {
		rec.Version = DefaultVersion
	}
	if rec.LetDate == "" {
		rec.LetDate = now.Format(plan.LetDateLayout)
	}
	rec.Normalize()
	return rec
}

// FormatSize renders a byte count as whole megabytes, rounded up, with a
// minimum of 1 MB.
func FormatSize(n int64) string {
	mb := int64(math.Ceil(float64(n) / (1 << 20)))
	return fmt.Sprintf("%d MB", max(mb, 1))
}
