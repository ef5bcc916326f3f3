package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/geofencer/internal/catalog"
	"github.com/roach88/geofencer/internal/geo"
)

// importResult is the import command's JSON payload.
type importResult struct {
	Geofences []geo.Geofence `json:"geofences"`
	Arriving  bool           `json:"arriving_template"`
	Leaving   bool           `json:"leaving_template"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <catalog-dir>",
		Short: "Import geofences and templates from a CUE catalog",
		Long: `Validate a directory of CUE files and store what it declares.

Every geofence is checked against the catalog schema before anything is
stored; one invalid entry rejects the whole catalog.

Example catalog:
  package home

  geofence: home: {latitude: 52.52, longitude: 13.405, radius: 200}
  notification: arriving: {title: "Welcome", body: "You have arrived"}

Example:
  geofencer import ./catalogs/home`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runImport(opts *RootOptions, dir string, cmd *cobra.Command) error {
	ctx := sessionContext(cmd.Context())
	formatter := newFormatter(opts, cmd)

	formatter.VerboseLog("Loading catalog from %s", dir)
	cat, errs := catalog.LoadDir(dir, catalog.CollectAll)
	if len(errs) > 0 {
		return outputCatalogErrors(formatter, errs)
	}
	formatter.VerboseLog("Catalog declares %d geofence(s)", len(cat.Geofences))

	s, err := openSession(ctx, opts, newLogger(opts, cmd.ErrOrStderr()))
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open session", err)
	}
	defer s.Close()

	stored, err := s.Coord.AddAll(ctx, cat.Geofences)
	if err != nil {
		return formatter.Fail(ExitFailure, "failed to import geofences", err)
	}
	if cat.Arriving != nil || cat.Leaving != nil {
		if err := s.Coord.SetNotificationTemplates(ctx, cat.Arriving, cat.Leaving); err != nil {
			return formatter.Fail(ExitFailure, "failed to store templates", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(importResult{
			Geofences: stored,
			Arriving:  cat.Arriving != nil,
			Leaving:   cat.Leaving != nil,
		})
	}

	fmt.Fprintf(formatter.Writer, "✓ Imported %d geofence(s) from %s\n", len(stored), dir)
	for _, g := range stored {
		fmt.Fprintf(formatter.Writer, "  %s\n", describe(g))
	}
	if cat.Arriving != nil {
		fmt.Fprintf(formatter.Writer, "  arriving template: %q\n", cat.Arriving.Title)
	}
	if cat.Leaving != nil {
		fmt.Fprintf(formatter.Writer, "  leaving template: %q\n", cat.Leaving.Title)
	}
	return nil
}

// outputCatalogErrors reports every catalog error and returns a command error.
func outputCatalogErrors(formatter *OutputFormatter, errs []error) error {
	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		cliErrors[i] = CLIError{Code: ErrCodeCatalog, Message: err.Error()}
		var compileErr *catalog.CompileError
		if errors.As(err, &compileErr) {
			cliErrors[i].Message = compileErr.Message
			cliErrors[i].Details = map[string]string{"field": compileErr.Field}
		}
	}

	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeCatalog, cliErrors[0].Message, cliErrors)
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Catalog invalid")
		fmt.Fprintln(formatter.Writer)
		for _, err := range errs {
			fmt.Fprintf(formatter.Writer, "  %v\n", err)
		}
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("catalog invalid with %d error(s)", len(errs)))
}

// TemplatesOptions holds flags for the templates command.
type TemplatesOptions struct {
	*RootOptions
	ArrivingTitle string
	ArrivingBody  string
	ArrivingNode  string
	LeavingTitle  string
	LeavingBody   string
	LeavingNode   string
	Clear         bool
}

// NewTemplatesCommand creates the templates command.
func NewTemplatesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TemplatesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Set the arrival and departure notification templates",
		Long: `Replace the notification templates used for crossings that happen while
no responder is attached. A template without a title is cleared.

Example:
  geofencer templates --arriving-title Welcome --arriving-body "You are home"
  geofencer templates --clear`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplates(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ArrivingTitle, "arriving-title", "", "title shown on entry")
	cmd.Flags().StringVar(&opts.ArrivingBody, "arriving-body", "", "body shown on entry")
	cmd.Flags().StringVar(&opts.ArrivingNode, "arriving-node", "", "application node the entry notification opens")
	cmd.Flags().StringVar(&opts.LeavingTitle, "leaving-title", "", "title shown on exit")
	cmd.Flags().StringVar(&opts.LeavingBody, "leaving-body", "", "body shown on exit")
	cmd.Flags().StringVar(&opts.LeavingNode, "leaving-node", "", "application node the exit notification opens")
	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "remove both templates")

	return cmd
}

func runTemplates(opts *TemplatesOptions, cmd *cobra.Command) error {
	ctx := sessionContext(cmd.Context())
	formatter := newFormatter(opts.RootOptions, cmd)

	arriving := template(opts.ArrivingTitle, opts.ArrivingBody, opts.ArrivingNode)
	leaving := template(opts.LeavingTitle, opts.LeavingBody, opts.LeavingNode)
	if !opts.Clear && arriving == nil && leaving == nil {
		_ = formatter.Error(ErrCodeInvalidInput, "no template given: use --arriving-title, --leaving-title or --clear", nil)
		return NewExitError(ExitCommandError, "no template given")
	}
	if opts.Clear {
		arriving, leaving = nil, nil
	}

	s, err := openSession(ctx, opts.RootOptions, newLogger(opts.RootOptions, cmd.ErrOrStderr()))
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open session", err)
	}
	defer s.Close()

	if err := s.Coord.SetNotificationTemplates(ctx, arriving, leaving); err != nil {
		return formatter.Fail(ExitFailure, "failed to store templates", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]*geo.NotificationTemplate{
			"arriving": arriving,
			"leaving":  leaving,
		})
	}
	if opts.Clear {
		fmt.Fprintln(formatter.Writer, "✓ Cleared notification templates")
		return nil
	}
	fmt.Fprintln(formatter.Writer, "✓ Stored notification templates")
	return nil
}

func template(title, body, node string) *geo.NotificationTemplate {
	if title == "" {
		return nil
	}
	return &geo.NotificationTemplate{Title: title, Body: body, AssociatedNodeID: node}
}
