package mission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/expr"
	"github.com/randalmurphal/mission/pkg/mission/history"
)

// TestTick_NilContext tests nil context handling.
func TestTick_NilContext(t *testing.T) {
	h := newHarness(t, Tree{Root: constant(ResultSuccess)})

	_, err := h.m.Tick(nil)
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = h.m.Run(nil)
	assert.ErrorIs(t, err, ErrNilContext)

	assert.ErrorIs(t, h.m.Stop(nil), ErrNilContext)
}

// TestTick_NewRunAfterTerminal tests that every terminal result ends the run.
func TestTick_NewRunAfterTerminal(t *testing.T) {
	h := newHarness(t, Tree{Name: "blink", Root: constant(ResultSuccess)})
	assert.Empty(t, h.m.ID())

	assert.Equal(t, ResultSuccess, h.tick())
	first := h.m.ID()
	require.NotEmpty(t, first)

	assert.Equal(t, ResultSuccess, h.tick())
	assert.NotEqual(t, first, h.m.ID())

	st := h.m.Status()
	assert.Equal(t, "blink", st.Mission)
	assert.False(t, st.Active)
	assert.Equal(t, 1, st.Ticks)
	assert.Equal(t, ResultSuccess, st.Last)
}

// TestTick_BlackboardReadsWaitForRunEnd tests that the blackboard is only
// readable between runs.
func TestTick_BlackboardReadsWaitForRunEnd(t *testing.T) {
	h := newHarness(t,
		Tree{Root: sequence("root", sleep("nap", 1), node("set", &SetBlackboard{
			BlackboardVariables: []expr.KeyValue{kv("done", expr.Const(expr.Bool(true)))},
		}))},
		WithBlackboard(map[string]expr.Constant{"done": expr.Bool(false)}),
	)

	_, err := h.m.Lookup("done")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, ResultRunning, h.tick())
	_, err = h.m.Lookup("done")
	assert.ErrorIs(t, err, ErrMissionActive)
	_, err = h.m.Snapshot()
	assert.ErrorIs(t, err, ErrMissionActive)

	assert.Equal(t, ResultSuccess, h.tickAfter(time.Second))
	snap, err := h.m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, map[string]expr.Constant{"done": expr.Bool(true)}, snap)
}

// TestTick_SeedNotShared tests that each run starts from the seeded blackboard.
func TestTick_SeedNotShared(t *testing.T) {
	seed := map[string]expr.Constant{"n": expr.Int(0)}
	h := newHarness(t,
		Tree{Root: node("set", &SetBlackboard{BlackboardVariables: []expr.KeyValue{kv("n", expr.Const(expr.Int(9)))}})},
		WithBlackboard(seed),
	)
	assert.Equal(t, ResultSuccess, h.tick())
	assert.True(t, seed["n"].Equal(expr.Int(0)))
}

// TestTick_CancelledContext tests that a done context stops the tree.
func TestTick_CancelledContext(t *testing.T) {
	nav := newScripted[adapter.NavigateToRequest]()
	h := newHarness(t,
		Tree{Root: node("go", &BosdynNavigateTo{DestinationWaypointID: "w1"})},
		WithAdapters(adapter.Set{NavigateTo: nav}),
	)
	assert.Equal(t, ResultRunning, h.tick())
	runID := h.m.ID()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.m.Tick(ctx)

	assert.Equal(t, ResultUnknown, res)
	var cerr *CancellationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, runID, cerr.RunID)
	assert.Equal(t, 1, cerr.Ticks)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []adapter.Handle{"op-0"}, nav.cancels())
	assert.False(t, h.m.Status().Active)
}

// TestStop tests stopping a running mission from outside.
func TestStop(t *testing.T) {
	store := history.NewMemoryStore()
	nav := newScripted[adapter.NavigateToRequest]()
	h := newHarness(t,
		Tree{Name: "patrol", Root: node("go", &BosdynNavigateTo{DestinationWaypointID: "w1"})},
		WithAdapters(adapter.Set{NavigateTo: nav}),
		WithHistory(store),
	)

	// idle stop is a no-op
	require.NoError(t, h.m.Stop(h.ctx))
	assert.Equal(t, 0, store.Len())

	assert.Equal(t, ResultRunning, h.tick())
	runID := h.m.ID()
	require.NoError(t, h.m.Stop(h.ctx))
	assert.Equal(t, []adapter.Handle{"op-0"}, nav.cancels())

	rec, err := store.Get(h.ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, rec.Result)
	assert.Equal(t, "patrol", rec.Mission)

	// the next tick starts over
	assert.Equal(t, ResultRunning, h.tick())
	assert.NotEqual(t, runID, h.m.ID())
	assert.Equal(t, 2, nav.starts())
}

// TestHistory_RecordsRuns tests what a finished run leaves in history.
func TestHistory_RecordsRuns(t *testing.T) {
	store := history.NewMemoryStore()
	h := newHarness(t,
		Tree{Name: "check", Root: sequence("root",
			node("set", &SetBlackboard{BlackboardVariables: []expr.KeyValue{kv("seen", expr.Const(expr.Int(1)))}}),
			condition("fail", expr.RuntimeVar("missing", expr.TypeInt), expr.OpEQ, expr.Const(expr.Int(1))),
		)},
		WithBlackboard(map[string]expr.Constant{"seen": expr.Int(0)}),
		WithHistory(store),
	)

	assert.Equal(t, ResultFailure, h.tick())

	recs, err := store.List(h.ctx, "check", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, h.m.ID(), rec.RunID)
	assert.Equal(t, "FAILURE", rec.Result)
	assert.Equal(t, 1, rec.Ticks)
	assert.Contains(t, rec.Error, "missing")
	assert.True(t, rec.Blackboard["seen"].Equal(expr.Int(1)))
}

func TestRun(t *testing.T) {
	t.Run("until terminal", func(t *testing.T) {
		store := history.NewMemoryStore()
		m, err := NewMission(mustLoad(t, Tree{Name: "quick", Root: node("r", &Repeat{MaxStarts: 3, Child: constant(ResultSuccess)})}),
			WithLogger(discardLogger()), WithHistory(store))
		require.NoError(t, err)

		res, err := m.Run(context.Background(), WithTickPeriod(time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, ResultSuccess, res)
		assert.Equal(t, 3, m.Status().Ticks)

		rec, err := store.Get(context.Background(), m.ID())
		require.NoError(t, err)
		assert.Equal(t, "SUCCESS", rec.Result)
	})

	t.Run("deadline", func(t *testing.T) {
		store := history.NewMemoryStore()
		m, err := NewMission(mustLoad(t, Tree{Root: sleep("long", 10)}), WithLogger(discardLogger()), WithHistory(store))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		res, err := m.Run(ctx, WithTickPeriod(time.Millisecond))

		assert.Equal(t, ResultUnknown, res)
		var cerr *CancellationError
		require.ErrorAs(t, err, &cerr)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		rec, err := store.Get(context.Background(), m.ID())
		require.NoError(t, err)
		assert.Equal(t, OutcomeCancelled, rec.Result)
	})

	t.Run("max ticks", func(t *testing.T) {
		store := history.NewMemoryStore()
		m, err := NewMission(mustLoad(t, Tree{Root: sleep("long", 10)}), WithLogger(discardLogger()), WithHistory(store))
		require.NoError(t, err)

		_, err = m.Run(context.Background(), WithTickPeriod(time.Millisecond), WithMaxTicks(3))
		require.ErrorIs(t, err, ErrMaxTicks)
		assert.Equal(t, 3, m.Status().Ticks)

		rec, err := store.Get(context.Background(), m.ID())
		require.NoError(t, err)
		assert.Equal(t, OutcomeStopped, rec.Result)
	})

	t.Run("cause preserved", func(t *testing.T) {
		m, err := NewMission(mustLoad(t, Tree{Root: sleep("long", 10)}), WithLogger(discardLogger()))
		require.NoError(t, err)

		estop := errors.New("operator estop")
		ctx, cancel := context.WithCancelCause(context.Background())
		time.AfterFunc(10*time.Millisecond, func() { cancel(estop) })

		_, err = m.Run(ctx, WithTickPeriod(time.Millisecond))
		assert.ErrorIs(t, err, estop)
	})
}

// TestTick_ConcurrentReaders tests that status reads during ticks are safe.
func TestTick_ConcurrentReaders(t *testing.T) {
	h := newHarness(t, Tree{Root: node("r", &Repeat{MaxStarts: 50, Child: constant(ResultSuccess)})})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = h.m.Status()
			_, _ = h.m.Snapshot()
		}
	}()
	for i := 0; i < 50; i++ {
		_, err := h.m.Tick(h.ctx)
		require.NoError(t, err)
	}
	<-done
	assert.Equal(t, ResultSuccess, h.m.Status().Last)
}
