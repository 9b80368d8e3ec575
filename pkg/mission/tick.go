package mission

import (
	"context"
	"fmt"
	"time"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/bind"
	"github.com/randalmurphal/mission/pkg/mission/blackboard"
	"github.com/randalmurphal/mission/pkg/mission/expr"
	"github.com/randalmurphal/mission/pkg/mission/observability"
)

// env is what a node sees when it is ticked: the blackboard scope of the
// current path and the parameter frame of the current path.
type env struct {
	board *blackboard.Blackboard
	frame *bind.Frame
}

func (e env) resolver() expr.Resolver {
	return e.frame.Resolver(e.board)
}

func (e env) with(board *blackboard.Blackboard) env {
	e.board = board
	return e
}

// nodeState is the run state of one vertex. It is zeroed whenever the node
// reaches a terminal result or is stopped.
type nodeState struct {
	active  bool
	impl    Impl
	started time.Time

	// Sequence, Selector
	index int
	// Repeat starts, Retry attempts
	count       int
	childActive bool
	// ForDuration
	timedOut bool
	// SimpleParallel
	secondaryDone bool

	// scope is the blackboard scope this node pushed for its children.
	scope *blackboard.Blackboard

	// in-flight adapter operation
	pending bool
	handle  adapter.Handle
	cancel  func(context.Context)

	// BosdynRobotState, BosdynGraphNavState
	hasState bool
	state    expr.Constant
}

// nodeMemo holds the state that outlives a stop: the Sleep timer anchor and
// the last Prompt answer. It is cleared when a new run begins.
type nodeMemo struct {
	anchored bool
	anchor   time.Time
	answered bool
	answer   int64
}

// tick ticks one vertex. Tick-time errors are logged, recorded as the
// mission's last error and turned into FAILURE.
func (m *Mission) tick(ctx context.Context, id NodeID, e env) Result {
	v := &m.graph.vertices[id]
	e.frame = e.frame.Push(v.name, v.paramValues)

	if v.kind == KindReference {
		return m.tick(ctx, v.target, e)
	}

	st := &m.states[id]
	if !st.active {
		if err := m.enter(id, v, st, e); err != nil {
			m.recordFailure(v, err)
			m.cfg.metrics.RecordNodeTick(ctx, string(v.kind), ResultFailure.String())
			return ResultFailure
		}
	}

	res, err := m.dispatch(ctx, id, v, st, e)
	if err != nil {
		m.recordFailure(v, err)
		res = ResultFailure
	}

	m.cfg.metrics.RecordNodeTick(ctx, string(v.kind), res.String())
	observability.LogNodeResult(m.logger, v.name, string(v.kind), res.String())

	if res.Terminal() {
		m.release(ctx, id, v, st)
	}
	return res
}

// enter prepares fresh run state. Overrides are applied to a copy of the
// impl here, so they are evaluated once per entry.
func (m *Mission) enter(id NodeID, v *vertex, st *nodeState, e env) error {
	impl := v.impl
	if len(v.overrides) > 0 {
		applied, err := bind.Apply(v.impl, v.overrides, e.resolver())
		if err != nil {
			return err
		}
		impl = applied.(Impl)
	}
	*st = nodeState{active: true, impl: impl, started: m.cfg.now()}

	if p, ok := impl.(*Prompt); ok && p.AlwaysReprompt {
		m.memos[id].answered = false
	}
	return nil
}

// dispatch runs the behaviour of one impl.
func (m *Mission) dispatch(ctx context.Context, id NodeID, v *vertex, st *nodeState, e env) (Result, error) {
	switch im := st.impl.(type) {
	case *Sequence:
		return m.tickSequence(ctx, v, st, e, im.AlwaysRestart, ResultFailure, ResultSuccess), nil
	case *Selector:
		return m.tickSequence(ctx, v, st, e, im.AlwaysRestart, ResultSuccess, ResultFailure), nil
	case *Repeat:
		return m.tickRepeat(ctx, v, st, e, im)
	case *Retry:
		return m.tickRetry(ctx, v, st, e, im)
	case *ForDuration:
		return m.tickForDuration(ctx, v, st, e, im)
	case *SimpleParallel:
		return m.tickParallel(ctx, v, st, e), nil
	case *Condition:
		return m.tickCondition(e, im)
	case *Sleep:
		return m.tickSleep(id, im), nil
	case *DefineBlackboard:
		return m.tickDefine(ctx, v, st, e, im)
	case *SetBlackboard:
		return m.tickSet(e, im)
	case *ConstantResult:
		return im.Result, nil
	case *BosdynRobotCommand:
		return m.tickRobotCommand(ctx, v, st, im)
	case *BosdynPowerRequest:
		return m.tickPower(ctx, v, st, im)
	case *BosdynNavigateTo:
		return m.tickNavigateTo(ctx, v, st, e, im)
	case *BosdynGraphNavLocalize:
		return m.tickLocalize(ctx, v, st, im)
	case *SpotCamStoreMedia:
		return m.tickStoreMedia(ctx, v, st, im)
	case *RemoteGrpc:
		return m.tickRemote(ctx, v, st, e, im)
	case *BosdynRobotState:
		return m.tickRobotState(ctx, v, st, e, im)
	case *BosdynGraphNavState:
		return m.tickGraphNavState(ctx, v, st, e, im)
	case *Prompt:
		return m.tickPrompt(ctx, id, v, st, e, im)
	}
	return ResultFailure, fmt.Errorf("%w: unhandled impl %T", ErrInvalidNode, st.impl)
}

// release cleans up after a terminal result: children still running are
// stopped, the node's scope is popped and its state is reset.
func (m *Mission) release(ctx context.Context, id NodeID, v *vertex, st *nodeState) {
	for _, c := range v.children {
		m.stop(ctx, c)
	}
	if st.cancel != nil {
		st.cancel(ctx)
	}
	m.cleanup(v, st)
	if _, ok := v.impl.(*Sleep); ok {
		m.memos[id].anchored = false
	}
	*st = nodeState{}
}

// stop sends the stop signal to a node left RUNNING: its running children
// are stopped first, then its own adapter operation is cancelled and its
// scope popped. Stopping an inactive node is a no-op.
func (m *Mission) stop(ctx context.Context, id NodeID) {
	if id == NoNode {
		return
	}
	v := &m.graph.vertices[id]
	if v.kind == KindReference {
		m.stop(ctx, v.target)
		return
	}
	st := &m.states[id]
	if !st.active {
		return
	}
	// Mark inactive first; a shared node may be reached again below.
	st.active = false
	for _, c := range v.children {
		m.stop(ctx, c)
	}
	if st.cancel != nil {
		st.cancel(ctx)
		m.cfg.spans.AddSpanEvent(ctx, "adapter.cancel")
	}
	m.cleanup(v, st)
	if s, ok := st.impl.(*Sleep); ok && s.RestartAfterStop {
		m.memos[id].anchored = false
	}
	observability.LogNodeStopped(m.logger, v.name, string(v.kind))
	*st = nodeState{}
}

func (m *Mission) cleanup(v *vertex, st *nodeState) {
	if st.scope == nil {
		return
	}
	depth := st.scope.Depth()
	if err := st.scope.Pop(); err == nil {
		observability.LogScope(m.logger, "pop", v.name, depth)
	}
}

// pushScope gives the node its own child scope on first use.
func (m *Mission) pushScope(v *vertex, st *nodeState, parent *blackboard.Blackboard, vars map[string]expr.Constant) *blackboard.Blackboard {
	if st.scope == nil {
		st.scope = parent.Push(v.name, vars)
		observability.LogScope(m.logger, "push", v.name, st.scope.Depth())
	}
	return st.scope
}
