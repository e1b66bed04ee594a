package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		Upload, register and browse construction plan sets.

		The serve command runs the plan room API. The upload and list commands
		talk to a running server.`)

	rootExamples = templates.Examples(`
		# Start the server against a local directory
		ADMIN_DOMAIN=maciasspecialty.com ADMIN_PASS=secret planroom serve --signing-key "$(openssl rand -hex 32)"

		# Publish a plan set
		planroom upload --email admin@maciasspecialty.com --district Austin IH35.pdf

		# Browse the index
		planroom list --district Austin --sort newest`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// PlanroomOptions defines the options for the `planroom` command.
type PlanroomOptions struct {
	iooption.IOStreams
}

// NewPlanroomOptions provides an initialised PlanroomOptions instance.
func NewPlanroomOptions(streams iooption.IOStreams) *PlanroomOptions {
	return &PlanroomOptions{
		IOStreams: streams,
	}
}

// NewRootCommand creates the `planroom` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewPlanroomOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `planroom` command and its nested
// children.
func NewRootCommandWithArgs(o *PlanroomOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "planroom [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Plan room for construction plan sets",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	printerOpts := printer.WarningPrinterOptions{Color: true}
	printer := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(printer))

	cmd.AddCommand(NewServeCommand(NewServeOptions(o.IOStreams)))
	cmd.AddCommand(NewUploadCommand(NewUploadOptions(o.IOStreams)))
	cmd.AddCommand(NewListCommand(NewListOptions(o.IOStreams)))

	// The global normalisation function ensures that all flags specified meet
	// the desired format, changing users' input if necessary.
	cmd.SetGlobalNormalizationFunc(cliflag.WordSepNormalizeFunc())

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
