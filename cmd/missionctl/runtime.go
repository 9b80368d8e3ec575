package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/adapter/grpcbridge"
	"github.com/randalmurphal/mission/pkg/mission/adapter/sim"
	"github.com/randalmurphal/mission/pkg/mission/config"
	"github.com/randalmurphal/mission/pkg/mission/history"
	"github.com/randalmurphal/mission/pkg/mission/prompt"
)

// runtime holds the adapters and stores a command opened. Close releases
// them in reverse order.
type runtime struct {
	set     adapter.Set
	broker  *prompt.Broker
	history history.Store
	closers []func() error
}

func (r *runtime) onClose(fn func() error) { r.closers = append(r.closers, fn) }

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// newRuntime wires adapters for s. The robot adapters come from the
// simulator or from a gRPC robot service; RemoteGrpc always goes through
// the directory.
func newRuntime(ctx context.Context, s config.Settings, logger *slog.Logger) (*runtime, error) {
	r := &runtime{}

	dir := grpcbridge.StaticDirectory(s.Directory)
	pool := grpcbridge.NewPool()
	r.onClose(pool.Close)

	switch s.Robot {
	case "sim":
		robot := newSimRobot(s.Sim, logger)
		r.onClose(robot.Close)
		r.set = robot.Adapters()
	case "grpc":
		client := grpcbridge.NewRobotClient(dir, pool, adapter.WithAsyncLogger(logger))
		r.onClose(client.Close)
		r.set = client.Adapters()
	default:
		_ = r.Close()
		return nil, fmt.Errorf("unknown robot %q: want sim or grpc", s.Robot)
	}

	remote := grpcbridge.NewRemote(dir, pool,
		grpcbridge.WithTickInterval(s.RemoteTickInterval),
		grpcbridge.WithRemoteLogger(logger),
	)
	r.onClose(remote.Close)
	r.set.RemoteGrpc = remote

	store, err := openPromptStore(ctx, s.Redis, logger)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		r.onClose(c.Close)
	}
	r.broker = prompt.NewBroker(store, prompt.WithLogger(logger))
	r.set.Prompt = r.broker

	runs, err := openHistory(s.HistoryPath)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	r.onClose(runs.Close)
	r.history = runs

	return r, nil
}

func newSimRobot(s config.SimSettings, logger *slog.Logger) *sim.Robot {
	return sim.New(
		sim.WithWaypoints(s.Waypoints...),
		sim.WithBattery(s.Battery, s.Drain),
		sim.WithLogger(logger),
		sim.WithTimings(sim.Timings{
			Command:  s.Command,
			Power:    s.Power,
			Navigate: s.Navigate,
			Localize: s.Localize,
			Media:    s.Media,
			State:    s.State,
		}),
	)
}

// openPromptStore returns the Redis store when an address is configured and
// an in-process store otherwise.
func openPromptStore(ctx context.Context, s config.RedisSettings, logger *slog.Logger) (prompt.Store, error) {
	if s.Addr == "" {
		return prompt.NewMemoryStore(), nil
	}
	store := prompt.NewRedisStore(s.Addr, s.Password, s.DB,
		prompt.WithKeyPrefix(s.KeyPrefix),
		prompt.WithTTL(s.TTL),
		prompt.WithRedisLogger(logger),
	)
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", s.Addr, err)
	}
	return store, nil
}

func openHistory(path string) (history.Store, error) {
	if path == "" {
		return history.NewMemoryStore(), nil
	}
	store, err := history.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	return store, nil
}
