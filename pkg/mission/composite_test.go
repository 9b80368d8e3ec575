package mission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// TestSequence_WaitsForRunningChild tests a sequence resuming at the running child.
func TestSequence_WaitsForRunningChild(t *testing.T) {
	h := newHarness(t, Tree{Root: sequence("root", constant(ResultSuccess), sleep("nap", 1))})

	assert.Equal(t, ResultRunning, h.tick())
	assert.Equal(t, ResultRunning, h.tickAfter(500*time.Millisecond))
	assert.Equal(t, ResultSuccess, h.tickAfter(500*time.Millisecond))
}

// TestSequence_StopsAtFailure tests that children after a failure never start.
func TestSequence_StopsAtFailure(t *testing.T) {
	cmd := autoDone[adapter.RobotCommandRequest](expr.Constant{})
	h := newHarness(t,
		Tree{Root: sequence("root", constant(ResultSuccess), constant(ResultFailure), command("stand"))},
		WithAdapters(adapter.Set{RobotCommand: cmd}),
	)

	assert.Equal(t, ResultFailure, h.tick())
	assert.Equal(t, 0, cmd.starts())
}

// TestSequence_ChildStartedOnce tests that a running child is polled, not restarted.
func TestSequence_ChildStartedOnce(t *testing.T) {
	cmd := newScripted[adapter.RobotCommandRequest]()
	h := newHarness(t,
		Tree{Root: sequence("root", command("stand"), command("sit"))},
		WithAdapters(adapter.Set{RobotCommand: cmd}),
	)

	assert.Equal(t, ResultRunning, h.tick())
	assert.Equal(t, ResultRunning, h.tick())
	assert.Equal(t, 1, cmd.starts())

	cmd.finish(0, adapter.DoneStatus(expr.Constant{}))
	assert.Equal(t, ResultRunning, h.tick())
	assert.Equal(t, 2, cmd.starts())

	cmd.finish(1, adapter.DoneStatus(expr.Constant{}))
	assert.Equal(t, ResultSuccess, h.tick())
	assert.Equal(t, 2, cmd.starts())
}

// TestSequence_AlwaysRestartStopsLaterChild tests that re-running the first
// child stops the child that was running further along.
func TestSequence_AlwaysRestartStopsLaterChild(t *testing.T) {
	power := newScripted[adapter.PowerRequest]()
	cmd := newScripted[adapter.RobotCommandRequest]()
	root := node("root", &Sequence{AlwaysRestart: true, Children: []*Node{
		node("power", &BosdynPowerRequest{Request: "REQUEST_ON"}),
		command("stand"),
	}})
	h := newHarness(t, Tree{Root: root}, WithAdapters(adapter.Set{Power: power, RobotCommand: cmd}))

	assert.Equal(t, ResultRunning, h.tick())
	power.finish(0, adapter.DoneStatus(expr.Constant{}))

	assert.Equal(t, ResultRunning, h.tick())
	assert.Equal(t, 1, cmd.starts())

	// power is inactive again, so it is started anew and stand is stopped
	assert.Equal(t, ResultRunning, h.tick())
	assert.Equal(t, 2, power.starts())
	assert.Equal(t, []adapter.Handle{"op-0"}, cmd.cancels())
}

func TestSelector(t *testing.T) {
	t.Run("first success wins", func(t *testing.T) {
		cmd := autoDone[adapter.RobotCommandRequest](expr.Constant{})
		h := newHarness(t,
			Tree{Root: selector("root", constant(ResultFailure), constant(ResultSuccess), command("stand"))},
			WithAdapters(adapter.Set{RobotCommand: cmd}),
		)
		assert.Equal(t, ResultSuccess, h.tick())
		assert.Equal(t, 0, cmd.starts())
	})

	t.Run("all fail", func(t *testing.T) {
		h := newHarness(t, Tree{Root: selector("root", constant(ResultFailure), constant(ResultFailure))})
		assert.Equal(t, ResultFailure, h.tick())
	})

	t.Run("running child", func(t *testing.T) {
		h := newHarness(t, Tree{Root: selector("root", constant(ResultFailure), sleep("nap", 1))})
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultSuccess, h.tickAfter(time.Second))
	})
}

func TestRepeat(t *testing.T) {
	t.Run("returns last result after max starts", func(t *testing.T) {
		h := newHarness(t, Tree{Root: node("r", &Repeat{MaxStarts: 3, Child: constant(ResultSuccess)})})
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultSuccess, h.tick())
	})

	t.Run("ignores child failure by default", func(t *testing.T) {
		h := newHarness(t, Tree{Root: node("r", &Repeat{MaxStarts: 2, Child: constant(ResultFailure)})})
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultFailure, h.tick())
	})

	t.Run("respect child failure", func(t *testing.T) {
		h := newHarness(t, Tree{Root: node("r", &Repeat{MaxStarts: 5, RespectChildFailure: true, Child: constant(ResultFailure)})})
		assert.Equal(t, ResultFailure, h.tick())
	})

	t.Run("single start is the child", func(t *testing.T) {
		children := map[string]func() *Node{
			"success": func() *Node { return constant(ResultSuccess) },
			"failure": func() *Node { return constant(ResultFailure) },
			"running": func() *Node { return sleep("nap", 1) },
		}
		for name, child := range children {
			t.Run(name, func(t *testing.T) {
				bare := newHarness(t, Tree{Root: child()})
				wrapped := newHarness(t, Tree{Root: node("r", &Repeat{MaxStarts: 1, Child: child()})})
				for i, d := range []time.Duration{0, 500 * time.Millisecond, 500 * time.Millisecond, 0} {
					want := bare.tickAfter(d)
					assert.Equal(t, want, wrapped.tickAfter(d), "tick %d", i)
				}
			})
		}
	})

	t.Run("start counter", func(t *testing.T) {
		record := node("record", &SetBlackboard{BlackboardVariables: []expr.KeyValue{
			kv("last_lap", expr.RuntimeVar("lap", expr.TypeInt)),
		}})
		h := newHarness(t,
			Tree{Root: node("r", &Repeat{MaxStarts: 3, StartCounterStateName: "lap", Child: record})},
			WithBlackboard(map[string]expr.Constant{"last_lap": expr.Int(-1)}),
		)
		h.tick()
		h.tick()
		assert.Equal(t, ResultSuccess, h.tick())

		got, err := h.m.Lookup("last_lap")
		require.NoError(t, err)
		assert.True(t, got.Equal(expr.Int(2)), "got %s", got)

		_, err = h.m.Lookup("lap")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRetry(t *testing.T) {
	t.Run("fails after max attempts", func(t *testing.T) {
		cmd := autoFail[adapter.RobotCommandRequest](assert.AnError)
		h := newHarness(t,
			Tree{Root: node("retry", &Retry{MaxAttempts: 3, Child: command("stand")})},
			WithAdapters(adapter.Set{RobotCommand: cmd}),
		)
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultFailure, h.tick())
		assert.Equal(t, 3, cmd.starts())
	})

	t.Run("single attempt is the child", func(t *testing.T) {
		for _, r := range []Result{ResultSuccess, ResultFailure} {
			h := newHarness(t, Tree{Root: node("retry", &Retry{MaxAttempts: 1, Child: constant(r)})})
			assert.Equal(t, r, h.tick())
		}
	})

	t.Run("attempt counter", func(t *testing.T) {
		third := condition("third", expr.RuntimeVar("attempt", expr.TypeInt), expr.OpEQ, expr.Const(expr.Int(2)))
		h := newHarness(t, Tree{Root: node("retry", &Retry{MaxAttempts: 5, AttemptCounterStateName: "attempt", Child: third})})
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultSuccess, h.tick())
	})
}

func TestForDuration(t *testing.T) {
	t.Run("times out", func(t *testing.T) {
		h := newHarness(t, Tree{Root: node("fd", &ForDuration{Duration: 2 * time.Second, Child: sleep("long", 10)})})
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultRunning, h.tickAfter(time.Second))
		assert.Equal(t, ResultFailure, h.tickAfter(time.Second))
	})

	t.Run("child finishes first", func(t *testing.T) {
		h := newHarness(t, Tree{Root: node("fd", &ForDuration{Duration: 2 * time.Second, Child: sleep("short", 1)})})
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultSuccess, h.tickAfter(time.Second))
	})

	t.Run("timeout child replaces failure", func(t *testing.T) {
		h := newHarness(t, Tree{Root: node("fd", &ForDuration{
			Duration:     2 * time.Second,
			Child:        sleep("long", 10),
			TimeoutChild: sleep("cooldown", 1),
		})})
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultRunning, h.tickAfter(2*time.Second))
		assert.Equal(t, ResultSuccess, h.tickAfter(time.Second))
	})

	t.Run("stops running child", func(t *testing.T) {
		nav := newScripted[adapter.NavigateToRequest]()
		h := newHarness(t,
			Tree{Root: node("fd", &ForDuration{Duration: time.Second, Child: node("go", &BosdynNavigateTo{DestinationWaypointID: "w1"})})},
			WithAdapters(adapter.Set{NavigateTo: nav}),
		)
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultFailure, h.tickAfter(time.Second))
		assert.Equal(t, []adapter.Handle{"op-0"}, nav.cancels())
	})

	t.Run("time remaining", func(t *testing.T) {
		record := node("record", &SetBlackboard{BlackboardVariables: []expr.KeyValue{
			kv("seen", expr.RuntimeVar("left", expr.TypeFloat)),
		}})
		h := newHarness(t,
			Tree{Root: node("fd", &ForDuration{Duration: 2 * time.Second, TimeRemainingName: "left", Child: record})},
			WithBlackboard(map[string]expr.Constant{"seen": expr.Float(0)}),
		)
		assert.Equal(t, ResultSuccess, h.tick())

		got, err := h.m.Lookup("seen")
		require.NoError(t, err)
		assert.True(t, got.Equal(expr.Float(2)), "got %s", got)
	})
}

func TestSimpleParallel(t *testing.T) {
	t.Run("primary decides", func(t *testing.T) {
		h := newHarness(t, Tree{Root: node("par", &SimpleParallel{Primary: sleep("short", 0.1), Secondary: sleep("long", 10)})})
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultSuccess, h.tickAfter(100*time.Millisecond))
	})

	t.Run("secondary stopped with primary", func(t *testing.T) {
		media := newScripted[adapter.StoreMediaRequest]()
		h := newHarness(t,
			Tree{Root: node("par", &SimpleParallel{
				Primary:   sleep("short", 0.1),
				Secondary: node("film", &SpotCamStoreMedia{Camera: "pano", Type: "video"}),
			})},
			WithAdapters(adapter.Set{StoreMedia: media}),
		)
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultSuccess, h.tickAfter(100*time.Millisecond))
		assert.Equal(t, []adapter.Handle{"op-0"}, media.cancels())
		assert.Equal(t, "pano", media.request(0).Camera)
	})

	t.Run("finished secondary is not restarted", func(t *testing.T) {
		cmd := autoDone[adapter.RobotCommandRequest](expr.Constant{})
		h := newHarness(t,
			Tree{Root: node("par", &SimpleParallel{Primary: sleep("wait", 1), Secondary: command("stand")})},
			WithAdapters(adapter.Set{RobotCommand: cmd}),
		)
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultRunning, h.tickAfter(100*time.Millisecond))
		assert.Equal(t, ResultSuccess, h.tickAfter(time.Second))
		assert.Equal(t, 1, cmd.starts())
	})

	t.Run("shared node ticked from both branches", func(t *testing.T) {
		shared := node("laps", &Repeat{MaxStarts: 3, Child: constant(ResultSuccess)})
		shared.ReferenceID = "laps"
		h := newHarness(t, Tree{
			Root:   node("par", &SimpleParallel{Primary: ref("a", "laps"), Secondary: ref("b", "laps")}),
			Shared: []*Node{shared},
		})
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultSuccess, h.tick())
	})
}

func TestCondition(t *testing.T) {
	tests := []struct {
		name string
		lhs  expr.Value
		op   expr.Operation
		rhs  expr.Value
		want Result
	}{
		{"int gt", expr.Const(expr.Int(5)), expr.OpGT, expr.Const(expr.Int(3)), ResultSuccess},
		{"int lt false", expr.Const(expr.Int(5)), expr.OpLT, expr.Const(expr.Int(3)), ResultFailure},
		{"variable eq", expr.RuntimeVar("mode", expr.TypeString), expr.OpEQ, expr.Const(expr.String("patrol")), ResultSuccess},
		{"missing variable", expr.RuntimeVar("nope", expr.TypeInt), expr.OpEQ, expr.Const(expr.Int(1)), ResultFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t,
				Tree{Root: condition("check", tt.lhs, tt.op, tt.rhs)},
				WithBlackboard(map[string]expr.Constant{"mode": expr.String("patrol")}),
			)
			assert.Equal(t, tt.want, h.tick())
		})
	}
}

func TestCondition_ErrorRecorded(t *testing.T) {
	h := newHarness(t, Tree{Root: condition("check", expr.RuntimeVar("nope", expr.TypeInt), expr.OpEQ, expr.Const(expr.Int(1)))})

	assert.Equal(t, ResultFailure, h.tick())

	err := h.m.LastError()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "check", nodeErr.Node)
	assert.Equal(t, "tick", nodeErr.Op)
}

// TestSleep_NewRunRestartsTimer tests that a sleep stopped by the end of a run
// starts over in the next run.
func TestSleep_NewRunRestartsTimer(t *testing.T) {
	h := newHarness(t, Tree{Root: node("fd", &ForDuration{Duration: time.Second, Child: sleep("nap", 3)})})
	assert.Equal(t, ResultRunning, h.tick())
	assert.Equal(t, ResultFailure, h.tickAfter(time.Second))

	// three seconds after the first anchor, but the new run anchored again
	assert.Equal(t, ResultRunning, h.tickAfter(2*time.Second))
}

// TestSleep_StopAndResume tests a sleep that is stopped and ticked again
// within the same run.
func TestSleep_StopAndResume(t *testing.T) {
	tests := []struct {
		name    string
		restart bool
		want    Result
	}{
		{"keeps original timer", false, ResultSuccess},
		{"restart after stop", true, ResultRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newScripted[adapter.RobotCommandRequest]()
			root := node("root", &Sequence{AlwaysRestart: true, Children: []*Node{
				node("gate", &Selector{Children: []*Node{command("stand"), constant(ResultSuccess)}}),
				node("nap", &Sleep{Seconds: 2, RestartAfterStop: tt.restart}),
			}})
			h := newHarness(t, Tree{Root: root}, WithAdapters(adapter.Set{RobotCommand: cmd}))

			// stand is pending, so the gate holds the sequence at the first child
			assert.Equal(t, ResultRunning, h.tick())
			cmd.finish(0, adapter.FailedStatus(assert.AnError))

			// the gate falls through and nap starts its timer
			assert.Equal(t, ResultRunning, h.tickAfter(time.Second))

			// the gate starts stand again and nap is stopped
			assert.Equal(t, ResultRunning, h.tickAfter(time.Second))
			cmd.finish(1, adapter.FailedStatus(assert.AnError))
			cmd.setAuto(adapter.FailedStatus(assert.AnError))

			assert.Equal(t, tt.want, h.tickAfter(time.Second))
			if tt.restart {
				assert.Equal(t, ResultSuccess, h.tickAfter(2*time.Second))
			}
		})
	}
}

func TestDefineBlackboard(t *testing.T) {
	t.Run("child sees definitions", func(t *testing.T) {
		h := newHarness(t, Tree{Root: node("define", &DefineBlackboard{
			BlackboardVariables: []expr.KeyValue{kv("x", expr.Const(expr.Int(1)))},
			Child:               condition("check", expr.RuntimeVar("x", expr.TypeInt), expr.OpEQ, expr.Const(expr.Int(1))),
		})})
		assert.Equal(t, ResultSuccess, h.tick())
	})

	t.Run("scope ends with the child", func(t *testing.T) {
		h := newHarness(t, Tree{Root: sequence("root",
			node("define", &DefineBlackboard{
				BlackboardVariables: []expr.KeyValue{kv("x", expr.Const(expr.Int(1)))},
				Child:               node("inner", &SetBlackboard{BlackboardVariables: []expr.KeyValue{kv("x", expr.Const(expr.Int(2)))}}),
			}),
			node("outer", &SetBlackboard{BlackboardVariables: []expr.KeyValue{kv("x", expr.Const(expr.Int(3)))}}),
		)})

		assert.Equal(t, ResultFailure, h.tick())
		assert.ErrorIs(t, h.m.LastError(), ErrNotFound)

		var nodeErr *NodeError
		require.ErrorAs(t, h.m.LastError(), &nodeErr)
		assert.Equal(t, "outer", nodeErr.Node)
	})

	t.Run("shadows outer variable", func(t *testing.T) {
		h := newHarness(t,
			Tree{Root: node("define", &DefineBlackboard{
				BlackboardVariables: []expr.KeyValue{kv("x", expr.Const(expr.Int(7)))},
				Child:               node("set", &SetBlackboard{BlackboardVariables: []expr.KeyValue{kv("x", expr.Const(expr.Int(8)))}}),
			})},
			WithBlackboard(map[string]expr.Constant{"x": expr.Int(1)}),
		)
		assert.Equal(t, ResultSuccess, h.tick())

		got, err := h.m.Lookup("x")
		require.NoError(t, err)
		assert.True(t, got.Equal(expr.Int(1)))
	})
}

func TestSetBlackboard(t *testing.T) {
	t.Run("writes defined variables", func(t *testing.T) {
		h := newHarness(t,
			Tree{Root: node("set", &SetBlackboard{BlackboardVariables: []expr.KeyValue{
				kv("a", expr.Const(expr.Int(5))),
				kv("b", expr.RuntimeVar("a", expr.TypeInt)),
			}})},
			WithBlackboard(map[string]expr.Constant{"a": expr.Int(1), "b": expr.Int(0)}),
		)
		assert.Equal(t, ResultSuccess, h.tick())

		snap, err := h.m.Snapshot()
		require.NoError(t, err)
		assert.True(t, snap["a"].Equal(expr.Int(5)))
		// values are resolved before anything is written
		assert.True(t, snap["b"].Equal(expr.Int(1)))
	})

	t.Run("undefined key writes nothing", func(t *testing.T) {
		h := newHarness(t,
			Tree{Root: node("set", &SetBlackboard{BlackboardVariables: []expr.KeyValue{
				kv("a", expr.Const(expr.Int(5))),
				kv("missing", expr.Const(expr.Int(6))),
			}})},
			WithBlackboard(map[string]expr.Constant{"a": expr.Int(1)}),
		)
		assert.Equal(t, ResultFailure, h.tick())
		assert.ErrorIs(t, h.m.LastError(), ErrNotFound)

		got, err := h.m.Lookup("a")
		require.NoError(t, err)
		assert.True(t, got.Equal(expr.Int(1)))
	})
}

func TestOverrides(t *testing.T) {
	t.Run("root parameter", func(t *testing.T) {
		root := &Node{
			Name:       "nap",
			Impl:       &Sleep{Seconds: 10},
			Parameters: []expr.VariableDeclaration{{Name: "wait", Type: expr.TypeFloat}},
			Overrides:  []expr.KeyValue{kv("seconds", expr.Param("wait", expr.TypeFloat))},
		}
		h := newHarness(t, Tree{Root: root}, WithParameterValues(map[string]expr.Constant{"wait": expr.Int(1)}))
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultSuccess, h.tickAfter(time.Second))
	})

	t.Run("forwarded through reference site", func(t *testing.T) {
		shared := &Node{
			Name:        "nap",
			ReferenceID: "nap",
			Impl:        &Sleep{Seconds: 10},
			Parameters:  []expr.VariableDeclaration{{Name: "wait", Type: expr.TypeFloat}},
			Overrides:   []expr.KeyValue{kv("seconds", expr.Param("wait", expr.TypeFloat))},
		}
		short := ref("short", "nap")
		short.ParameterValues = []expr.KeyValue{kv("wait", expr.RuntimeVar("pause", expr.TypeFloat))}

		h := newHarness(t,
			Tree{Root: sequence("root", short), Shared: []*Node{shared}},
			WithBlackboard(map[string]expr.Constant{"pause": expr.Float(2)}),
		)
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultRunning, h.tickAfter(time.Second))
		assert.Equal(t, ResultSuccess, h.tickAfter(time.Second))
	})

	t.Run("evaluated once per entry", func(t *testing.T) {
		nap := &Node{
			Name:      "nap",
			Impl:      &Sleep{Seconds: 10},
			Overrides: []expr.KeyValue{kv("seconds", expr.RuntimeVar("pause", expr.TypeFloat))},
		}
		bump := node("bump", &SetBlackboard{BlackboardVariables: []expr.KeyValue{kv("pause", expr.Const(expr.Float(5)))}})
		root := node("par", &SimpleParallel{Primary: nap, Secondary: bump})

		h := newHarness(t, Tree{Root: root}, WithBlackboard(map[string]expr.Constant{"pause": expr.Float(1)}))
		assert.Equal(t, ResultRunning, h.tick())
		assert.Equal(t, ResultSuccess, h.tickAfter(time.Second))
	})

	t.Run("failed override fails the node", func(t *testing.T) {
		nap := &Node{
			Name:      "nap",
			Impl:      &Sleep{Seconds: 10},
			Overrides: []expr.KeyValue{kv("seconds", expr.RuntimeVar("pause", expr.TypeFloat))},
		}
		h := newHarness(t, Tree{Root: nap})
		assert.Equal(t, ResultFailure, h.tick())
		assert.ErrorIs(t, h.m.LastError(), ErrNotFound)
	})
}
