package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/geofencer/internal/store"
)

// DefaultDatabase is the SQLite path used when neither --db nor
// GEOFENCER_DB is set.
const DefaultDatabase = "geofencer.db"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Database is the SQLite path. Ignored when Redis is set.
	Database string

	// Redis selects the Redis backend at this address.
	Redis         string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the geofencer CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "geofencer",
		Short: "Geofence lifecycle coordinator",
		Long: `Manage persisted geofences, notification templates and region monitoring.

Geofences are stored in SQLite (or Redis with --redis) and survive restarts.
The simulate command replays YAML scenarios against a simulated device, and
run drives the coordinator from location fixes on stdin.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", defaultDatabase(), "path to SQLite database (env GEOFENCER_DB)")
	cmd.PersistentFlags().StringVar(&opts.Redis, "redis", "", "Redis address; stores state in Redis instead of SQLite")
	cmd.PersistentFlags().StringVar(&opts.RedisPassword, "redis-password", "", "Redis password")
	cmd.PersistentFlags().IntVar(&opts.RedisDB, "redis-db", 0, "Redis database number")
	cmd.PersistentFlags().StringVar(&opts.RedisPrefix, "redis-prefix", store.DefaultRedisPrefix, "prefix for Redis keys")

	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewTemplatesCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}

func defaultDatabase() string {
	if path := os.Getenv("GEOFENCER_DB"); path != "" {
		return path
	}
	return DefaultDatabase
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
