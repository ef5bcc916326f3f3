package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/geofencer/internal/engine"
	"github.com/roach88/geofencer/internal/geo"
	"github.com/roach88/geofencer/internal/platform/sim"
	"github.com/roach88/geofencer/internal/store"
)

// newLogger builds the command logger: text on w, debug with --verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openKV opens the configured backend: Redis when --redis is set, SQLite
// otherwise. The returned func releases it.
func openKV(ctx context.Context, opts *RootOptions) (store.KeyValue, func() error, error) {
	if opts.Redis != "" {
		client, err := store.NewRedisClient(ctx, store.RedisConfig{
			Addr:     opts.Redis,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Prefix:   opts.RedisPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisStore(client, opts.RedisPrefix), client.Close, nil
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

// session is a running coordinator over the configured store. The device is
// simulated; commands that need positions drive it directly.
type session struct {
	Coord  *engine.Coordinator
	Device *sim.Simulator

	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan error
	closeKV func() error
}

// openSession starts a coordinator and loads persisted state. Close must be
// called to stop the loop and release the store.
func openSession(ctx context.Context, opts *RootOptions, logger *slog.Logger, extra ...engine.Option) (*session, error) {
	kv, closeKV, err := openKV(ctx, opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	device := sim.New(sim.Config{
		Authorization:  geo.AuthorizationAlways,
		GrantOnRequest: geo.AuthorizationAlways,
	})
	coordOpts := append([]engine.Option{engine.WithLogger(logger)}, extra...)
	coord := engine.New(engine.Config{
		KV:       kv,
		Monitor:  device,
		Provider: device,
		Locator:  device,
	}, coordOpts...)
	device.SetSink(coord)

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		Coord:   coord,
		Device:  device,
		logger:  logger,
		cancel:  cancel,
		done:    make(chan error, 1),
		closeKV: closeKV,
	}
	go func() { s.done <- coord.Run(runCtx) }()

	if err := coord.Load(ctx); err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load state", err)
	}
	return s, nil
}

// Close finishes queued work, stops the loop and closes the store.
func (s *session) Close() {
	s.Coord.Stop()
	<-s.done
	s.cancel()
	if err := s.closeKV(); err != nil {
		s.logger.Error("error closing store", "error", err)
	}
}

func sessionContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func describe(g geo.Geofence) string {
	return fmt.Sprintf("%s (%.6f, %.6f) r=%.0fm entry=%t exit=%t",
		g.Identifier, g.Center.Latitude, g.Center.Longitude, g.Radius, g.NotifyOnEntry, g.NotifyOnExit)
}
