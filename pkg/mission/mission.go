package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/bind"
	"github.com/randalmurphal/mission/pkg/mission/blackboard"
	"github.com/randalmurphal/mission/pkg/mission/expr"
	"github.com/randalmurphal/mission/pkg/mission/history"
	"github.com/randalmurphal/mission/pkg/mission/observability"
)

// Outcomes recorded in history besides the three tick results.
const (
	OutcomeCancelled = "CANCELLED"
	OutcomeStopped   = "STOPPED"
)

// Mission is one runnable instance of a Graph. It owns the per-node run
// state, the blackboard and the adapters. A Mission is safe for concurrent
// use, but ticks are serialized: one tick runs at a time, and blackboard
// reads from other goroutines wait for the tick boundary.
type Mission struct {
	mu      sync.Mutex
	graph   *Graph
	cfg     missionConfig
	logger  *slog.Logger
	states  []nodeState
	memos   []nodeMemo
	frame   *bind.Frame
	board   *blackboard.Blackboard
	runID   string
	ticks   int
	started time.Time
	active  bool
	last    Result
	lastErr error
}

// Status is a point-in-time view of a mission.
type Status struct {
	RunID   string
	Mission string
	Active  bool
	Ticks   int
	Last    Result
	Started time.Time
	Err     error
}

// NewMission prepares g for execution. It fails with ErrAdapterMissing when
// the graph uses a leaf kind that has no adapter, and with
// ErrUnknownParameter when a root parameter is not supplied.
func NewMission(g *Graph, opts ...Option) (*Mission, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	cfg := defaultMissionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var errs []error
	for _, kind := range g.Kinds() {
		if !hasAdapter(cfg.adapters, kind) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrAdapterMissing, kind))
		}
	}

	root := &g.vertices[g.root]
	values := make(map[string]expr.Constant, len(cfg.params))
	for name, c := range cfg.params {
		values[name] = c
	}
	for _, decl := range root.parameters {
		c, ok := values[decl.Name]
		if !ok {
			if !bound(root.paramValues, decl.Name) {
				errs = append(errs, fmt.Errorf("%w: root parameter %q not supplied", ErrUnknownParameter, decl.Name))
			}
			continue
		}
		conv, err := c.Convert(decl.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("parameter %q: %w", decl.Name, err))
			continue
		}
		values[decl.Name] = conv
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Mission{
		graph:  g,
		cfg:    cfg,
		logger: cfg.logger,
		states: make([]nodeState, len(g.vertices)),
		memos:  make([]nodeMemo, len(g.vertices)),
		frame:  bind.Root(values),
	}, nil
}

func bound(kvs []expr.KeyValue, name string) bool {
	for _, kv := range kvs {
		if kv.Key == name {
			return true
		}
	}
	return false
}

func hasAdapter(set adapter.Set, kind Kind) bool {
	switch kind {
	case KindRobotCommand:
		return set.RobotCommand != nil
	case KindPowerRequest:
		return set.Power != nil
	case KindNavigateTo:
		return set.NavigateTo != nil
	case KindGraphNavLocalize:
		return set.Localize != nil
	case KindSpotCamStoreMedia:
		return set.StoreMedia != nil
	case KindRobotState:
		return set.RobotState != nil
	case KindGraphNavState:
		return set.GraphNavState != nil
	case KindRemoteGrpc:
		return set.RemoteGrpc != nil
	case KindPrompt:
		return set.Prompt != nil
	}
	return true
}

// Graph returns the graph the mission runs.
func (m *Mission) Graph() *Graph { return m.graph }

// Tick ticks the root once and returns its result.
//
// The first tick after construction, or after a terminal result, starts a
// new run: a fresh blackboard, a new run id and cleared node state. If ctx
// is already done, the tree is stopped, outstanding adapter operations are
// cancelled and a *CancellationError is returned.
func (m *Mission) Tick(ctx context.Context) (Result, error) {
	if ctx == nil {
		return ResultUnknown, ErrNilContext
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ResultUnknown, m.cancelLocked(ctx, context.Cause(ctx))
	}
	if !m.active {
		m.beginLocked()
	}

	m.ticks++
	tickCtx, span := m.cfg.spans.StartTickSpan(ctx, m.ticks)
	start := m.cfg.now()

	res := m.tick(tickCtx, m.graph.root, env{board: m.board, frame: m.frame})

	m.cfg.metrics.RecordTick(ctx, m.graph.name, res.String(), m.cfg.now().Sub(start))
	m.cfg.spans.EndSpanWithError(span, nil)
	m.last = res

	if res.Terminal() {
		m.endLocked(ctx, res.String(), m.lastErr)
	}
	return res, nil
}

// Run ticks the mission at a fixed period until the root reaches a terminal
// result or ctx ends. On cancellation the tree is stopped and a
// *CancellationError is returned.
//
// Example:
//
//	res, err := m.Run(ctx, mission.WithTickPeriod(50*time.Millisecond))
func (m *Mission) Run(ctx context.Context, opts ...RunOption) (Result, error) {
	if ctx == nil {
		return ResultUnknown, ErrNilContext
	}
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	m.mu.Lock()
	if !m.active {
		m.beginLocked()
	}
	runID := m.runID
	logger := m.logger
	m.mu.Unlock()

	ctx, span := m.cfg.spans.StartRunSpan(ctx, m.graph.name, runID)
	elapsed := observability.TimedOperation()
	observability.LogMissionStart(logger, runID, cfg.tickPeriod)

	fail := func(outcome string, err error, ticks int) (Result, error) {
		observability.LogMissionFailed(logger, runID, err, ticks, elapsed())
		m.cfg.spans.EndSpanWithError(span, err)
		m.cfg.metrics.RecordRun(ctx, m.graph.name, outcome, time.Duration(elapsed()*float64(time.Millisecond)))
		return ResultUnknown, err
	}

	limiter := rate.NewLimiter(rate.Every(cfg.tickPeriod), 1)
	for n := 1; ; n++ {
		if err := limiter.Wait(ctx); err != nil {
			cause := context.Cause(ctx)
			if cause == nil {
				// The next tick would land past the deadline.
				cause = context.DeadlineExceeded
			}
			m.mu.Lock()
			cerr := m.cancelLocked(ctx, cause)
			m.mu.Unlock()
			return fail(OutcomeCancelled, cerr, n-1)
		}

		res, err := m.Tick(ctx)
		if err != nil {
			return fail(OutcomeCancelled, err, n-1)
		}
		if res.Terminal() {
			observability.LogMissionComplete(logger, runID, res.String(), n, elapsed())
			m.cfg.spans.EndSpanWithError(span, nil)
			m.cfg.metrics.RecordRun(ctx, m.graph.name, res.String(), time.Duration(elapsed()*float64(time.Millisecond)))
			return res, nil
		}
		if cfg.maxTicks > 0 && n >= cfg.maxTicks {
			if err := m.Stop(ctx); err != nil {
				return fail(OutcomeStopped, err, n)
			}
			return fail(OutcomeStopped, fmt.Errorf("%w: %d", ErrMaxTicks, cfg.maxTicks), n)
		}
	}
}

// Stop stops every running node, cancels outstanding adapter operations and
// ends the current run. Stopping an idle mission is a no-op.
func (m *Mission) Stop(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return nil
	}
	m.stop(context.WithoutCancel(ctx), m.graph.root)
	m.endLocked(ctx, OutcomeStopped, m.lastErr)
	return nil
}

// Lookup reads a variable from the root blackboard scope of the last run.
// It fails with ErrMissionActive while a run is in progress.
func (m *Mission) Lookup(name string) (expr.Constant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return expr.Constant{}, ErrMissionActive
	}
	if m.board == nil {
		return expr.Constant{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.board.Get(name)
}

// Snapshot returns every variable of the last run's root scope. It fails
// with ErrMissionActive while a run is in progress.
func (m *Mission) Snapshot() (map[string]expr.Constant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return nil, ErrMissionActive
	}
	if m.board == nil {
		return map[string]expr.Constant{}, nil
	}
	return m.board.Snapshot(), nil
}

// LastError returns the most recent error that turned a node tick into
// FAILURE during the current or last run.
func (m *Mission) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ID returns the current or last run id. It is empty before the first tick.
func (m *Mission) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

// Status returns a snapshot of the mission's progress.
func (m *Mission) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		RunID:   m.runID,
		Mission: m.graph.name,
		Active:  m.active,
		Ticks:   m.ticks,
		Last:    m.last,
		Started: m.started,
		Err:     m.lastErr,
	}
}

func (m *Mission) beginLocked() {
	m.runID = uuid.NewString()
	m.board = blackboard.New(m.cfg.vars)
	m.states = make([]nodeState, len(m.graph.vertices))
	m.memos = make([]nodeMemo, len(m.graph.vertices))
	m.ticks = 0
	m.last = ResultUnknown
	m.lastErr = nil
	m.started = m.cfg.now()
	m.active = true
	m.logger = observability.EnrichLogger(m.cfg.logger, m.runID, m.graph.name)
}

// cancelLocked stops the tree after ctx ended and returns the error to report.
func (m *Mission) cancelLocked(ctx context.Context, cause error) error {
	cerr := &CancellationError{RunID: m.runID, Ticks: m.ticks, Cause: cause}
	if !m.active {
		return cerr
	}
	m.stop(context.WithoutCancel(ctx), m.graph.root)
	m.endLocked(ctx, OutcomeCancelled, cause)
	return cerr
}

// endLocked closes the current run and records it.
func (m *Mission) endLocked(ctx context.Context, outcome string, err error) {
	m.active = false
	if m.cfg.history == nil {
		return
	}
	rec := history.Record{
		RunID:      m.runID,
		Mission:    m.graph.name,
		Result:     outcome,
		Ticks:      m.ticks,
		Started:    m.started,
		Finished:   m.cfg.now(),
		Blackboard: m.board.Snapshot(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if serr := m.cfg.history.Save(context.WithoutCancel(ctx), rec); serr != nil {
		m.logger.Warn("failed to record run", slog.String("run_id", m.runID), slog.String("error", serr.Error()))
	}
}

// recordFailure keeps err as the mission's last error and logs it.
func (m *Mission) recordFailure(v *vertex, err error) {
	m.lastErr = &NodeError{Node: v.name, Kind: v.kind, Op: "tick", Err: err}
	observability.LogNodeFailure(m.logger, v.name, string(v.kind), err)
}

func (m *Mission) adapterFailure(ctx context.Context, v *vertex, err error) {
	m.cfg.metrics.RecordAdapterError(ctx, string(v.kind))
	observability.LogAdapterError(m.logger, string(v.kind), v.name, err)
}
