package mission

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/expr"
	"github.com/randalmurphal/mission/pkg/mission/history"
	"github.com/randalmurphal/mission/pkg/mission/observability"
)

// loadConfig holds configuration for Load.
type loadConfig struct {
	logger *slog.Logger
}

func defaultLoadConfig() loadConfig {
	return loadConfig{logger: slog.Default()}
}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

// WithLoadLogger sets the logger used for load warnings such as unreachable
// shared nodes. A nil logger discards them.
func WithLoadLogger(logger *slog.Logger) LoadOption {
	return func(c *loadConfig) {
		if logger == nil {
			logger = slog.New(slog.DiscardHandler)
		}
		c.logger = logger
	}
}

// missionConfig holds configuration for one Mission instance.
type missionConfig struct {
	now      func() time.Time
	logger   *slog.Logger
	adapters adapter.Set
	params   map[string]expr.Constant
	vars     map[string]expr.Constant
	history  history.Store
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
}

func defaultMissionConfig() missionConfig {
	return missionConfig{
		now:     time.Now,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
}

// Option configures a Mission.
type Option func(*missionConfig)

// WithClock replaces time.Now. Every timer in the tree (Sleep, ForDuration,
// RemoteGrpc timeouts) reads this clock, so tests can step time by hand.
func WithClock(now func() time.Time) Option {
	return func(c *missionConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the mission logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *missionConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAdapters sets the adapters used by action leaves. Every leaf kind the
// graph uses must have an adapter.
func WithAdapters(set adapter.Set) Option {
	return func(c *missionConfig) {
		c.adapters = set
	}
}

// WithParameterValues supplies the parameters the root node declares.
func WithParameterValues(values map[string]expr.Constant) Option {
	return func(c *missionConfig) {
		c.params = values
	}
}

// WithBlackboard seeds the root blackboard scope of every run.
//
// Example:
//
//	m, err := mission.NewMission(g, mission.WithBlackboard(map[string]expr.Constant{
//		"dock_waypoint": expr.String("w-dock"),
//	}))
func WithBlackboard(vars map[string]expr.Constant) Option {
	return func(c *missionConfig) {
		c.vars = vars
	}
}

// WithHistory records every finished run, including its final blackboard,
// in store.
func WithHistory(store history.Store) Option {
	return func(c *missionConfig) {
		c.history = store
	}
}

// WithMetrics enables OpenTelemetry metrics for ticks, node results, runs
// and adapter errors.
//
// Metrics are recorded using the global OpenTelemetry meter provider.
// Configure the provider before running missions:
//
//	provider := metric.NewMeterProvider(...)
//	otel.SetMeterProvider(provider)
func WithMetrics(enabled bool) Option {
	return func(c *missionConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables a span per Run and per tick.
func WithTracing(enabled bool) Option {
	return func(c *missionConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// runConfig holds configuration for Mission.Run.
type runConfig struct {
	tickPeriod time.Duration
	maxTicks   int
}

func defaultRunConfig() runConfig {
	return runConfig{tickPeriod: 100 * time.Millisecond}
}

// RunOption configures Mission.Run.
type RunOption func(*runConfig)

// WithTickPeriod sets the interval between root ticks.
// Default: 100ms
func WithTickPeriod(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d > 0 {
			c.tickPeriod = d
		}
	}
}

// WithMaxTicks stops the run with ErrMaxTicks after n ticks without a
// terminal result. Zero means unlimited.
func WithMaxTicks(n int) RunOption {
	return func(c *runConfig) {
		if n >= 0 {
			c.maxTicks = n
		}
	}
}
