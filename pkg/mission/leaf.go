package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/expr"
	"github.com/randalmurphal/mission/pkg/mission/template"
)

// call starts an operation on the first tick and polls it on every tick,
// including the first. It never blocks.
func call[R any](ctx context.Context, m *Mission, v *vertex, st *nodeState, a adapter.Adapter[R], req func() (R, error)) (adapter.Status, error) {
	if !st.pending {
		r, err := req()
		if err != nil {
			return adapter.Status{}, err
		}
		h, err := a.Start(ctx, r)
		if err != nil {
			m.adapterFailure(ctx, v, err)
			return adapter.Status{}, err
		}
		st.pending = true
		st.handle = h
		st.cancel = func(ctx context.Context) { a.Cancel(ctx, h) }
		m.cfg.spans.AddSpanEvent(ctx, "adapter.start")
	}

	s := a.Poll(ctx, st.handle)
	if s.Terminal() {
		st.pending = false
		st.handle = ""
		st.cancel = nil
	}
	if s.State == adapter.Failed {
		if s.Err == nil {
			s.Err = errors.New("operation failed")
		}
		m.adapterFailure(ctx, v, s.Err)
	}
	return s, nil
}

// leafResult maps an adapter status onto a node result.
func leafResult(s adapter.Status) (Result, error) {
	switch s.State {
	case adapter.Done:
		return ResultSuccess, nil
	case adapter.Failed:
		return ResultFailure, s.Err
	}
	return ResultRunning, nil
}

func callLeaf[R any](ctx context.Context, m *Mission, v *vertex, st *nodeState, a adapter.Adapter[R], req R) (Result, error) {
	s, err := call(ctx, m, v, st, a, func() (R, error) { return req, nil })
	if err != nil {
		return ResultFailure, err
	}
	return leafResult(s)
}

func (m *Mission) tickRobotCommand(ctx context.Context, v *vertex, st *nodeState, im *BosdynRobotCommand) (Result, error) {
	return callLeaf(ctx, m, v, st, m.cfg.adapters.RobotCommand, adapter.RobotCommandRequest{
		Target:  im.Target,
		Command: im.Command,
	})
}

func (m *Mission) tickPower(ctx context.Context, v *vertex, st *nodeState, im *BosdynPowerRequest) (Result, error) {
	return callLeaf(ctx, m, v, st, m.cfg.adapters.Power, adapter.PowerRequest{
		Target:  im.Target,
		Request: im.Request,
	})
}

func (m *Mission) tickLocalize(ctx context.Context, v *vertex, st *nodeState, im *BosdynGraphNavLocalize) (Result, error) {
	return callLeaf(ctx, m, v, st, m.cfg.adapters.Localize, adapter.LocalizeRequest{
		Target:              im.Target,
		LocalizationRequest: im.LocalizationRequest,
		AllowBadQuality:     im.AllowBadQuality,
	})
}

func (m *Mission) tickStoreMedia(ctx context.Context, v *vertex, st *nodeState, im *SpotCamStoreMedia) (Result, error) {
	return callLeaf(ctx, m, v, st, m.cfg.adapters.StoreMedia, adapter.StoreMediaRequest{
		Target: im.Target,
		Camera: im.Camera,
		Type:   im.Type,
		Tag:    im.Tag,
	})
}

// tickNavigateTo writes the final response to the configured blackboard
// key. The key must already be defined; a missing key is logged and does
// not fail the navigation.
func (m *Mission) tickNavigateTo(ctx context.Context, v *vertex, st *nodeState, e env, im *BosdynNavigateTo) (Result, error) {
	s, err := call(ctx, m, v, st, m.cfg.adapters.NavigateTo, func() (adapter.NavigateToRequest, error) {
		return adapter.NavigateToRequest{
			Target:                im.Target,
			DestinationWaypointID: im.DestinationWaypointID,
			RouteGenParams:        im.RouteGenParams,
			TravelParams:          im.TravelParams,
		}, nil
	})
	if err != nil {
		return ResultFailure, err
	}
	if s.State == adapter.Done && im.NavigateToResponseBlackboardKey != "" && !s.Value.IsZero() {
		if err := e.board.Set(im.NavigateToResponseBlackboardKey, s.Value); err != nil {
			m.logger.Warn("navigate response not stored",
				slog.String("node", v.name),
				slog.String("key", im.NavigateToResponseBlackboardKey),
				slog.String("error", err.Error()),
			)
		}
	}
	return leafResult(s)
}

// tickRemote measures its timeout from the node's own first tick.
func (m *Mission) tickRemote(ctx context.Context, v *vertex, st *nodeState, e env, im *RemoteGrpc) (Result, error) {
	if im.Timeout > 0 && m.cfg.now().Sub(st.started) >= im.Timeout {
		if st.cancel != nil {
			st.cancel(ctx)
			st.pending = false
			st.cancel = nil
		}
		return ResultFailure, fmt.Errorf("%w after %s", ErrRemoteTimeout, im.Timeout)
	}

	s, err := call(ctx, m, v, st, m.cfg.adapters.RemoteGrpc, func() (adapter.RemoteGrpcRequest, error) {
		inputs, err := resolveAll(e, im.Inputs)
		if err != nil {
			return adapter.RemoteGrpcRequest{}, fmt.Errorf("inputs: %w", err)
		}
		req := adapter.RemoteGrpcRequest{
			Target:         im.Target,
			Node:           v.name,
			Timeout:        im.Timeout,
			LeaseResources: im.LeaseResources,
			Inputs:         make(map[string]any, len(inputs)),
		}
		for k, c := range inputs {
			req.Inputs[k] = c.Any()
		}
		return req, nil
	})
	if err != nil {
		return ResultFailure, err
	}
	return leafResult(s)
}

// fetchState keeps one state request in flight and remembers the latest
// response. It returns false until a first state has arrived.
func fetchState[R any](ctx context.Context, m *Mission, v *vertex, st *nodeState, a adapter.Adapter[R], req R) (bool, error) {
	s, err := call(ctx, m, v, st, a, func() (R, error) { return req, nil })
	if err != nil {
		return false, err
	}
	switch s.State {
	case adapter.Done:
		st.state = s.Value
		st.hasState = true
	case adapter.Failed:
		return false, s.Err
	}
	return st.hasState, nil
}

// tickWithState exposes the latest state to the child under name.
func (m *Mission) tickWithState(ctx context.Context, v *vertex, st *nodeState, e env, name string) (Result, error) {
	scope := m.pushScope(v, st, e.board, nil)
	if name != "" {
		if err := scope.Define(name, st.state); err != nil {
			return ResultFailure, err
		}
	}
	return m.tick(ctx, v.children[0], e.with(scope)), nil
}

func (m *Mission) tickRobotState(ctx context.Context, v *vertex, st *nodeState, e env, im *BosdynRobotState) (Result, error) {
	ready, err := fetchState(ctx, m, v, st, m.cfg.adapters.RobotState, adapter.RobotStateRequest{Target: im.Target})
	if err != nil {
		return ResultFailure, err
	}
	if !ready {
		return ResultRunning, nil
	}
	return m.tickWithState(ctx, v, st, e, im.StateName)
}

func (m *Mission) tickGraphNavState(ctx context.Context, v *vertex, st *nodeState, e env, im *BosdynGraphNavState) (Result, error) {
	ready, err := fetchState(ctx, m, v, st, m.cfg.adapters.GraphNavState, adapter.GraphNavStateRequest{
		Target:     im.Target,
		WaypointID: im.WaypointID,
	})
	if err != nil {
		return ResultFailure, err
	}
	if !ready {
		return ResultRunning, nil
	}
	return m.tickWithState(ctx, v, st, e, im.StateName)
}

var promptText = template.NewExpander(template.WithMissingAction(template.MissingKeep))

// tickPrompt asks once per entry (or reuses the previous answer) and then
// ticks its child with the answer code defined under Source.
func (m *Mission) tickPrompt(ctx context.Context, id NodeID, v *vertex, st *nodeState, e env, im *Prompt) (Result, error) {
	memo := &m.memos[id]
	if !memo.answered {
		s, err := call(ctx, m, v, st, m.cfg.adapters.Prompt, func() (adapter.PromptRequest, error) {
			text, err := promptText.Expand(im.Text, boardLookup(e))
			if err != nil {
				return adapter.PromptRequest{}, err
			}
			return adapter.PromptRequest{
				Node:                    v.name,
				Text:                    text,
				Source:                  im.Source,
				Options:                 im.Options,
				ForAutonomousProcessing: im.ForAutonomousProcessing,
			}, nil
		})
		if err != nil {
			return ResultFailure, err
		}
		switch s.State {
		case adapter.Pending:
			return ResultRunning, nil
		case adapter.Failed:
			return ResultFailure, s.Err
		}
		code, ok := s.Value.AsInt()
		if !ok {
			return ResultFailure, fmt.Errorf("%w: prompt answer %s is not an int", expr.ErrTypeMismatch, s.Value.Type())
		}
		memo.answered = true
		memo.answer = code
	}

	var vars map[string]expr.Constant
	if im.Source != "" {
		vars = map[string]expr.Constant{im.Source: expr.Int(memo.answer)}
	}
	scope := m.pushScope(v, st, e.board, vars)
	return m.tick(ctx, v.children[0], e.with(scope)), nil
}

func boardLookup(e env) template.Lookup {
	return func(name string) (string, bool) {
		c, err := e.board.Get(name)
		if err != nil {
			return "", false
		}
		return c.String(), true
	}
}
