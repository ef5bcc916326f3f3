package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/geofencer/internal/engine"
	"github.com/roach88/geofencer/internal/geo"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Latitude  float64
	Longitude float64
	Radius    float64
	NoEntry   bool
	NoExit    bool
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add [identifier]",
		Short: "Add or update a geofence",
		Long: `Add a geofence, or replace the one with the same identifier.

A random identifier is generated when none is given. If monitoring is
switched on, the new region is registered right away.

Example:
  geofencer add home --lat 52.52 --lon 13.405 --radius 200
  geofencer add --lat 52.53 --lon 13.38 --radius 150 --no-exit`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			identifier := ""
			if len(args) == 1 {
				identifier = args[0]
			}
			return runAdd(opts, identifier, cmd)
		},
	}

	cmd.Flags().Float64Var(&opts.Latitude, "lat", 0, "center latitude in degrees (required)")
	cmd.Flags().Float64Var(&opts.Longitude, "lon", 0, "center longitude in degrees (required)")
	cmd.Flags().Float64Var(&opts.Radius, "radius", 0, "radius in meters (required)")
	cmd.Flags().BoolVar(&opts.NoEntry, "no-entry", false, "do not report entries")
	cmd.Flags().BoolVar(&opts.NoExit, "no-exit", false, "do not report exits")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	_ = cmd.MarkFlagRequired("radius")

	return cmd
}

func runAdd(opts *AddOptions, identifier string, cmd *cobra.Command) error {
	ctx := sessionContext(cmd.Context())
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := openSession(ctx, opts.RootOptions, newLogger(opts.RootOptions, cmd.ErrOrStderr()))
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open session", err)
	}
	defer s.Close()

	stored, err := s.Coord.Add(ctx, geo.Geofence{
		Identifier:    identifier,
		Center:        geo.Coordinate{Latitude: opts.Latitude, Longitude: opts.Longitude},
		Radius:        opts.Radius,
		NotifyOnEntry: !opts.NoEntry,
		NotifyOnExit:  !opts.NoExit,
	})
	if err != nil {
		return formatter.Fail(ExitFailure, "failed to add geofence", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(stored)
	}
	fmt.Fprintf(formatter.Writer, "✓ Added %s\n", describe(stored))
	return nil
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "remove <identifier>",
		Short:         "Remove a geofence and stop its region",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runRemove(opts *RootOptions, identifier string, cmd *cobra.Command) error {
	ctx := sessionContext(cmd.Context())
	formatter := newFormatter(opts, cmd)

	s, err := openSession(ctx, opts, newLogger(opts, cmd.ErrOrStderr()))
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open session", err)
	}
	defer s.Close()

	if _, ok, err := s.Coord.Get(ctx, identifier); err != nil {
		return formatter.Fail(ExitFailure, "failed to look up geofence", err)
	} else if !ok {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("geofence %q not found", identifier), nil)
		return NewExitError(ExitFailure, fmt.Sprintf("geofence %q not found", identifier))
	}

	if err := s.Coord.Remove(ctx, identifier); err != nil {
		return formatter.Fail(ExitFailure, "failed to remove geofence", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"removed": identifier})
	}
	fmt.Fprintf(formatter.Writer, "✓ Removed %s\n", identifier)
	return nil
}

// listResult is the list command's JSON payload.
type listResult struct {
	Geofences []geo.Geofence `json:"geofences"`
	Status    engine.Status  `json:"status"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List stored geofences",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
	return cmd
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	ctx := sessionContext(cmd.Context())
	formatter := newFormatter(opts, cmd)

	s, err := openSession(ctx, opts, newLogger(opts, cmd.ErrOrStderr()))
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open session", err)
	}
	defer s.Close()

	geofences, err := s.Coord.List(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, "failed to list geofences", err)
	}
	status, err := s.Coord.Status(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, "failed to read status", err)
	}
	if geofences == nil {
		geofences = []geo.Geofence{}
	}

	if formatter.Format == "json" {
		return formatter.Success(listResult{Geofences: geofences, Status: status})
	}

	if len(geofences) == 0 {
		fmt.Fprintln(formatter.Writer, "No geofences")
	}
	for _, g := range geofences {
		fmt.Fprintf(formatter.Writer, "  %s\n", describe(g))
	}
	monitoring := "off"
	if status.Activated {
		monitoring = "on"
	}
	fmt.Fprintf(formatter.Writer, "\n%d geofence(s), monitoring %s\n", len(geofences), monitoring)
	return nil
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var stop bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every geofence",
		Long: `Remove every geofence and stop their regions.

Monitoring stays switched on unless --stop is given, so geofences added later
are registered right away.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(rootOpts, stop, cmd)
		},
	}

	cmd.Flags().BoolVar(&stop, "stop", false, "also switch monitoring off")
	return cmd
}

func runClear(opts *RootOptions, stop bool, cmd *cobra.Command) error {
	ctx := sessionContext(cmd.Context())
	formatter := newFormatter(opts, cmd)

	s, err := openSession(ctx, opts, newLogger(opts, cmd.ErrOrStderr()))
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open session", err)
	}
	defer s.Close()

	if stop {
		err = s.Coord.StopMonitoringAll(ctx, nil)
	} else {
		err = s.Coord.RemoveAll(ctx)
	}
	if err != nil {
		return formatter.Fail(ExitFailure, "failed to clear geofences", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]bool{"cleared": true, "stopped": stop})
	}
	fmt.Fprintln(formatter.Writer, "✓ Cleared all geofences")
	return nil
}
