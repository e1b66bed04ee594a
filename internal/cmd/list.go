package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/planroom/internal/client"
	"github.com/tomasbasham/planroom/internal/plan"
)

type ListOptions struct {
	ClientOptions

	Query    string
	District string
	Sort     string
	Output   string

	order plan.SortOrder

	iooption.IOStreams
}

var (
	listLong = templates.LongDesc(`
		List the plan sets registered with a server.

		Without filters plan sets are listed most recently registered first.`)

	listExample = templates.Examples(`
		# List everything
		planroom list

		# Search within a district, newest letting first
		planroom list --district Austin --query "IH 35" --sort newest

		# Print the raw records
		planroom list -o json`)
)

func NewListOptions(streams iooption.IOStreams) *ListOptions {
	return &ListOptions{
		IOStreams: streams,
	}
}

func NewListCommand(o *ListOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List registered plan sets",
		Long:    listLong,
		Example: listExample,
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

	flags.StringVarP(&o.Query, "query", "q", "", "Case-insensitive text to search for")
	flags.StringVarP(&o.District, "district", "d", "", "Only list plan sets in this district")
	flags.StringVar(&o.Sort, "sort", "", "Sort order: newest, oldest or az")
	flags.StringVarP(&o.Output, "output", "o", "table", "Output format: table or json")

	return cmd
}

func (o *ListOptions) Complete(cmd *cobra.Command, args []string) error {
	order, err := plan.ParseSortOrder(o.Sort)
	if err != nil {
		return err
	}
	o.order = order
	return nil
}

func (o *ListOptions) Validate() error {
	if o.Output != "table" && o.Output != "json" {
		return fmt.Errorf("unknown output format %q (want table or json)", o.Output)
	}
	return nil
}

func (o *ListOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := o.Client().List(ctx, plan.Query{
		Text:     o.Query,
		District: o.District,
		Sort:     o.order,
	})
	if err != nil {
		return err
	}

	if o.Output == "json" {
		enc := json.NewEncoder(o.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Items)
	}
	return printTable(o, result)
}

func printTable(o *ListOptions, result *client.ListResult) error {
	if len(result.Items) == 0 {
		fmt.Fprintln(o.ErrOut, "No plan sets found")
		return nil
	}

	w := tabwriter.NewWriter(o.Out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tDISTRICT\tHIGHWAY\tLET DATE\tVERSION\tSIZE\tTAGS\tKEY")
	for _, r := range result.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Title, r.District, r.Highway, r.LetDate, r.Version, r.Size,
			strings.Join(r.Tags, ","), r.StorageKey)
	}
	return w.Flush()
}
