package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/planroom/internal/plan"
	"github.com/tomasbasham/planroom/internal/publish"
)

type UploadOptions struct {
	ClientOptions

	Files       []string
	Folder      string
	ContentType string
	Concurrency int
	Verbose     bool

	ID       string
	Title    string
	District string
	CSJ      string
	Highway  string
	Version  string
	LetDate  string
	Tags     []string

	iooption.IOStreams
}

var (
	uploadLong = templates.LongDesc(`
		Upload plan set files and register them in the index.

		Each file is uploaded to a signed URL issued by the server and then
		registered. Unset metadata defaults to a new id, the filename without
		its .pdf extension as the title, today's date as the let date and v1 as
		the version.`)

	uploadExample = templates.Examples(`
		# Upload a plan set into a folder
		planroom upload --email admin@maciasspecialty.com --folder austin/ih35 IH35.pdf

		# Upload several plan sets with shared metadata
		planroom upload --district Austin --tag Roadway --tag Bridge *.pdf`)
)

func NewUploadOptions(streams iooption.IOStreams) *UploadOptions {
	return &UploadOptions{
		IOStreams: streams,
	}
}

func NewUploadCommand(o *UploadOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "upload [FILE...]",
		DisableFlagsInUseLine: true,
		Short:                 "Upload and register plan sets",
		Long:                  uploadLong,
		Example:               uploadExample,
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

	flags := cmd.Flags()
	o.ClientOptions.AddFlags(flags)

	flags.StringVarP(&o.Folder, "folder", "f", "", "Folder to upload into")
	flags.StringVar(&o.ContentType, "content-type", "", "Content type to upload with (default: detected)")
	flags.IntVar(&o.Concurrency, "concurrency", 1, "Number of files to upload at once")
	flags.BoolVarP(&o.Verbose, "verbose", "v", false, "Log each step")

	flags.StringVar(&o.ID, "id", "", "Record id (single file only)")
	flags.StringVar(&o.Title, "title", "", "Record title (single file only)")
	flags.StringVar(&o.District, "district", "", "District")
	flags.StringVar(&o.CSJ, "csj", "", "Control-section-job number")
	flags.StringVar(&o.Highway, "highway", "", "Highway")
	flags.StringVar(&o.Version, "plan-version", "", "Plan set version (default v1)")
	flags.StringVar(&o.LetDate, "let-date", "", "Letting date as YYYY-MM-DD (default today)")
	flags.StringSliceVarP(&o.Tags, "tag", "t", nil, "Tag to attach, may be repeated")

	return cmd
}

func (o *UploadOptions) Complete(cmd *cobra.Command, args []string) error {
	o.Files = args
	return nil
}

func (o *UploadOptions) Validate() error {
	if len(o.Files) == 0 {
		return errors.New("at least one file is required")
	}
	if len(o.Files) > 1 && (o.ID != "" || o.Title != "") {
		return errors.New("--id and --title apply to a single file")
	}
	if o.Email == "" {
		return errors.New("--email is required")
	}
	if o.Concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1, got %d", o.Concurrency)
	}
	if o.LetDate != "" {
		if _, err := time.Parse(plan.LetDateLayout, o.LetDate); err != nil {
			return fmt.Errorf("--let-date %q is not a YYYY-MM-DD date", o.LetDate)
		}
	}
	return nil
}

func (o *UploadOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := zap.NewNop()
	if o.Verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to initialise logger: %w", err)
		}
		defer func() { _ = l.Sync() }()
		logger = l
	}

	files := make([]publish.Options, len(o.Files))
	for i, path := range o.Files {
		files[i] = publish.Options{
			Path:        path,
			Folder:      o.Folder,
			ContentType: o.ContentType,
			ID:          o.ID,
			Title:       o.Title,
			District:    o.District,
			CSJ:         o.CSJ,
			Highway:     o.Highway,
			Version:     o.Version,
			LetDate:     o.LetDate,
			Tags:        o.Tags,
		}
	}

	results, err := publish.New(o.Client(), logger).PublishAll(ctx, files, o.Concurrency)
	for _, r := range results {
		fmt.Fprintf(o.Out, "Uploaded & registered %s as %s (%s)\n", r.Record.Title, r.Record.StorageKey, r.Record.ID)
	}
	if err != nil {
		return err
	}

	if n := len(results); n > 0 {
		fmt.Fprintf(o.Out, "Index now holds %d plan sets\n", results[n-1].Count)
	}
	return nil
}
