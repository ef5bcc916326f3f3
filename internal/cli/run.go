package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/geofencer/internal/crossing"
	"github.com/roach88/geofencer/internal/engine"
	"github.com/roach88/geofencer/internal/geo"
	"github.com/roach88/geofencer/internal/publish"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Start             bool
	Detached          bool
	KafkaBrokers      []string
	CrossingTopic     string
	NotificationTopic string
}

// Fix is one NDJSON input line for the run command.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// runResult is the run command's JSON payload.
type runResult struct {
	Fixes  int           `json:"fixes"`
	Status engine.Status `json:"status"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the coordinator on location fixes from stdin",
		Long: `Run the coordinator against a simulated device driven by stdin.

Each input line is a JSON fix: {"latitude": 52.52, "longitude": 13.405}.
Crossings go to the attached responder, or become local notifications when
started with --detached. With --kafka-brokers both are published to Kafka;
otherwise they are logged.

Monitoring resumes if it was switched on before; --start switches it on.
The command stops at end of input or on SIGINT/SIGTERM.

Example:
  geofencer run --start < fixes.ndjson
  geofencer run --kafka-brokers localhost:9092 --detached < fixes.ndjson`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoordinator(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Start, "start", false, "switch monitoring on before reading fixes")
	cmd.Flags().BoolVar(&opts.Detached, "detached", false, "do not attach a responder; crossings become notifications")
	cmd.Flags().StringSliceVar(&opts.KafkaBrokers, "kafka-brokers", nil, "Kafka brokers for crossings and notifications")
	cmd.Flags().StringVar(&opts.CrossingTopic, "crossing-topic", publish.DefaultCrossingTopic, "Kafka topic for crossing events")
	cmd.Flags().StringVar(&opts.NotificationTopic, "notification-topic", publish.DefaultNotificationTopic, "Kafka topic for notifications")

	return cmd
}

func runCoordinator(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	var (
		notifier  crossing.Notifier = logNotifier{logger: logger}
		responder crossing.Responder = logResponder(logger)
	)
	if len(opts.KafkaBrokers) > 0 {
		producer := publish.NewProducer(opts.KafkaBrokers, logger)
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Error("error closing producer", "error", err)
			}
		}()
		notifier = publish.NewKafkaNotifier(producer, opts.NotificationTopic)
		responder = publish.NewKafkaResponder(producer, opts.CrossingTopic, logger).Responder()
		logger.Info("publishing to kafka", "brokers", strings.Join(opts.KafkaBrokers, ","),
			"crossing_topic", opts.CrossingTopic, "notification_topic", opts.NotificationTopic)
	}

	ctx, cancel := context.WithCancel(sessionContext(cmd.Context()))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	s, err := openSession(ctx, opts.RootOptions, logger, engine.WithNotifier(notifier))
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open session", err)
	}
	defer s.Close()

	completion := func(regions []geo.Region, err error) {
		if err != nil {
			logger.Warn("monitoring not started", "error", err)
			return
		}
		logger.Info("monitoring started", "regions", len(regions))
	}
	if opts.Start {
		err = s.Coord.StartMonitoringAll(ctx, completion)
	} else {
		err = s.Coord.Restart(ctx, completion)
	}
	if err != nil {
		return formatter.Fail(ExitFailure, "failed to start monitoring", err)
	}

	if !opts.Detached {
		if err := s.Coord.OnGeofenceEvent(ctx, responder); err != nil {
			return formatter.Fail(ExitFailure, "failed to attach responder", err)
		}
	}

	logger.Info("coordinator running", "db", opts.Database, "redis", opts.Redis)
	fixes, err := feedFixes(ctx, s, cmd.InOrStdin(), logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		return formatter.Fail(ExitCommandError, "failed to read fixes", err)
	}

	status, err := s.Coord.Status(context.Background())
	if err != nil {
		return formatter.Fail(ExitFailure, "failed to read status", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(runResult{Fixes: fixes, Status: status})
	}
	fmt.Fprintf(formatter.Writer, "Processed %d fix(es); %d region(s) monitored\n", fixes, status.MonitoredRegions)
	return nil
}

// feedFixes moves the device to each fix read from r until end of input or
// until ctx is done. It returns the number of fixes applied.
func feedFixes(ctx context.Context, s *session, r io.Reader, logger *slog.Logger) (int, error) {
	type decoded struct {
		fix Fix
		err error
	}
	lines := make(chan decoded)

	go func() {
		defer close(lines)
		dec := json.NewDecoder(r)
		for {
			var f Fix
			err := dec.Decode(&f)
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case lines <- decoded{fix: f, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		case d, ok := <-lines:
			if !ok {
				return count, nil
			}
			if d.err != nil {
				return count, fmt.Errorf("fix %d: %w", count+1, d.err)
			}
			loc := geo.Location{
				Coordinate: geo.Coordinate{Latitude: d.fix.Latitude, Longitude: d.fix.Longitude},
				Accuracy:   d.fix.Accuracy,
				Timestamp:  time.Now(),
			}
			if err := loc.Coordinate.Validate(); err != nil {
				logger.Warn("fix skipped", "fix", count+1, "error", err)
				continue
			}
			events := s.Device.MoveTo(loc)
			count++
			logger.Debug("fix applied", "latitude", loc.Latitude, "longitude", loc.Longitude, "crossings", len(events))
		}
	}
}

// logResponder logs every crossing it receives.
func logResponder(logger *slog.Logger) crossing.Responder {
	return func(e geo.CrossingEvent) {
		logger.Info("geofence event",
			"geofence", e.Geofence.Identifier,
			"action", e.Kind,
			"time", e.Time)
	}
}

// logNotifier logs local notifications instead of showing them.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Post(_ context.Context, note crossing.Notification) error {
	n.logger.Info("local notification",
		"geofence", note.Identifier,
		"action", note.Kind,
		"title", note.Title,
		"body", note.Body)
	return nil
}
