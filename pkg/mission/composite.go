package mission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// tickSequence implements both Sequence and Selector. A child returning stopOn
// ends the node with that result; running out of children returns exhausted.
func (m *Mission) tickSequence(ctx context.Context, v *vertex, st *nodeState, e env, alwaysRestart bool, stopOn, exhausted Result) Result {
	i := st.index
	if alwaysRestart {
		i = 0
	}
	for ; i < len(v.children); i++ {
		child := v.children[i]
		switch r := m.tick(ctx, child, e); r {
		case ResultRunning:
			if st.index != i {
				// Restarted from the front while a later child was running.
				m.stop(ctx, v.children[st.index])
			}
			st.index = i
			return ResultRunning
		case stopOn:
			return r
		}
	}
	return exhausted
}

// counterScope defines name (when set) in the node's child scope.
func (m *Mission) counterScope(v *vertex, st *nodeState, e env, name string, n int) (env, error) {
	if name == "" {
		return e, nil
	}
	scope := m.pushScope(v, st, e.board, nil)
	if err := scope.Define(name, expr.Int(int64(n))); err != nil {
		return e, err
	}
	return e.with(scope), nil
}

func (m *Mission) tickRepeat(ctx context.Context, v *vertex, st *nodeState, e env, im *Repeat) (Result, error) {
	if !st.childActive {
		st.count++
		st.childActive = true
	}
	ce, err := m.counterScope(v, st, e, im.StartCounterStateName, st.count-1)
	if err != nil {
		return ResultFailure, err
	}

	r := m.tick(ctx, v.children[0], ce)
	if r == ResultRunning {
		return ResultRunning, nil
	}
	st.childActive = false
	switch {
	case r == ResultFailure && im.RespectChildFailure:
		return ResultFailure, nil
	case st.count >= im.MaxStarts:
		return r, nil
	}
	return ResultRunning, nil
}

func (m *Mission) tickRetry(ctx context.Context, v *vertex, st *nodeState, e env, im *Retry) (Result, error) {
	if !st.childActive {
		st.count++
		st.childActive = true
	}
	ce, err := m.counterScope(v, st, e, im.AttemptCounterStateName, st.count-1)
	if err != nil {
		return ResultFailure, err
	}

	r := m.tick(ctx, v.children[0], ce)
	switch r {
	case ResultRunning:
		return ResultRunning, nil
	case ResultSuccess:
		return ResultSuccess, nil
	}
	st.childActive = false
	if st.count >= im.MaxAttempts {
		return ResultFailure, nil
	}
	return ResultRunning, nil
}

// tickForDuration measures elapsed time from the node's own first tick.
func (m *Mission) tickForDuration(ctx context.Context, v *vertex, st *nodeState, e env, im *ForDuration) (Result, error) {
	child := v.children[0]
	timeoutChild := NoNode
	if len(v.children) > 1 {
		timeoutChild = v.children[1]
	}

	if st.timedOut {
		return m.tick(ctx, timeoutChild, e), nil
	}

	elapsed := m.cfg.now().Sub(st.started)
	if elapsed >= im.Duration {
		m.stop(ctx, child)
		if timeoutChild == NoNode {
			return ResultFailure, nil
		}
		st.timedOut = true
		return m.tick(ctx, timeoutChild, e), nil
	}

	ce := e
	if im.TimeRemainingName != "" {
		scope := m.pushScope(v, st, e.board, nil)
		remaining := (im.Duration - elapsed).Seconds()
		if err := scope.Define(im.TimeRemainingName, expr.Float(remaining)); err != nil {
			return ResultFailure, err
		}
		ce = e.with(scope)
	}
	return m.tick(ctx, child, ce), nil
}

// tickParallel ticks the primary, then the secondary while it is still
// running. The primary's result decides; release stops the secondary.
func (m *Mission) tickParallel(ctx context.Context, v *vertex, st *nodeState, e env) Result {
	primary, secondary := v.children[0], v.children[1]

	if r := m.tick(ctx, primary, e); r.Terminal() {
		return r
	}
	if !st.secondaryDone {
		if r := m.tick(ctx, secondary, e); r.Terminal() {
			st.secondaryDone = true
		}
	}
	return ResultRunning
}

func (m *Mission) tickCondition(e env, im *Condition) (Result, error) {
	r := e.resolver()
	lhs, err := im.Lhs.Resolve(r)
	if err != nil {
		return ResultFailure, fmt.Errorf("lhs: %w", err)
	}
	rhs, err := im.Rhs.Resolve(r)
	if err != nil {
		return ResultFailure, fmt.Errorf("rhs: %w", err)
	}
	ok, err := expr.Compare(im.Operation, lhs, rhs)
	if err != nil {
		return ResultFailure, err
	}
	if ok {
		return ResultSuccess, nil
	}
	return ResultFailure, nil
}

// tickSleep anchors its timer on the first tick. The anchor is kept when the
// node is stopped unless RestartAfterStop is set.
func (m *Mission) tickSleep(id NodeID, im *Sleep) Result {
	memo := &m.memos[id]
	now := m.cfg.now()
	if !memo.anchored {
		memo.anchored = true
		memo.anchor = now
	}
	if now.Sub(memo.anchor) >= time.Duration(im.Seconds*float64(time.Second)) {
		return ResultSuccess
	}
	return ResultRunning
}

// tickDefine pushes a scope holding the resolved variables on its first
// tick. The scope is popped when the child finishes or the node is stopped.
func (m *Mission) tickDefine(ctx context.Context, v *vertex, st *nodeState, e env, im *DefineBlackboard) (Result, error) {
	if st.scope == nil {
		vars, err := resolveAll(e, im.BlackboardVariables)
		if err != nil {
			return ResultFailure, err
		}
		m.pushScope(v, st, e.board, vars)
	}
	return m.tick(ctx, v.children[0], e.with(st.scope)), nil
}

// tickSet writes variables that are already defined. Nothing is written
// unless every variable exists.
func (m *Mission) tickSet(e env, im *SetBlackboard) (Result, error) {
	vars, err := resolveAll(e, im.BlackboardVariables)
	if err != nil {
		return ResultFailure, err
	}
	var missing []error
	for _, kv := range im.BlackboardVariables {
		if _, err := e.board.Get(kv.Key); err != nil {
			missing = append(missing, err)
		}
	}
	if len(missing) > 0 {
		return ResultFailure, errors.Join(missing...)
	}
	for _, kv := range im.BlackboardVariables {
		if err := e.board.Set(kv.Key, vars[kv.Key]); err != nil {
			return ResultFailure, err
		}
	}
	return ResultSuccess, nil
}

func resolveAll(e env, kvs []expr.KeyValue) (map[string]expr.Constant, error) {
	r := e.resolver()
	out := make(map[string]expr.Constant, len(kvs))
	for _, kv := range kvs {
		c, err := kv.Value.Resolve(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kv.Key, err)
		}
		out[kv.Key] = c
	}
	return out, nil
}
