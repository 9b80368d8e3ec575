package grpcbridge

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/randalmurphal/mission/pkg/mission"
	"github.com/randalmurphal/mission/pkg/mission/expr"
	"github.com/randalmurphal/mission/pkg/mission/registry"
)

// Host serves a loaded mission over the remote mission service. Every
// session gets its own Mission built from the same Graph; the session's
// inputs become the root parameter values.
type Host struct {
	graph    *mission.Graph
	opts     []mission.Option
	logger   *slog.Logger
	sessions *registry.Registry[string, *mission.Mission]
}

var _ RemoteServer = (*Host)(nil)

// NewHost creates a host for g. opts are applied to every session's
// Mission, after the parameter values.
func NewHost(g *mission.Graph, logger *slog.Logger, opts ...mission.Option) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		graph:    g,
		opts:     opts,
		logger:   logger,
		sessions: registry.New[string, *mission.Mission](),
	}
}

// Sessions returns the number of open sessions.
func (h *Host) Sessions() int { return h.sessions.Len() }

// EstablishSession creates a session.
func (h *Host) EstablishSession(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	params := make(map[string]expr.Constant)
	for name, v := range req.GetFields()["inputs"].GetStructValue().AsMap() {
		c, err := expr.FromAny(v)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "input %q: %v", name, err)
		}
		params[name] = c
	}

	opts := append([]mission.Option{
		mission.WithParameterValues(params),
		mission.WithLogger(h.logger),
	}, h.opts...)
	m, err := mission.NewMission(h.graph, opts...)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	id := uuid.NewString()
	h.sessions.Register(id, m)
	h.logger.Info("remote session opened",
		slog.String("session_id", id),
		slog.String("caller", req.GetFields()["node"].GetStringValue()),
	)
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"session_id": structpb.NewStringValue(id),
	}}, nil
}

func (h *Host) session(req *structpb.Struct) (string, *mission.Mission, error) {
	id := req.GetFields()["session_id"].GetStringValue()
	m, ok := h.sessions.Get(id)
	if !ok {
		return id, nil, status.Errorf(codes.NotFound, "session %q not found", id)
	}
	return id, m, nil
}

// Tick ticks the session's mission once.
func (h *Host) Tick(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_, m, err := h.session(req)
	if err != nil {
		return nil, err
	}
	res, err := m.Tick(ctx)
	if err != nil {
		return nil, status.Error(codes.Aborted, err.Error())
	}

	fields := map[string]*structpb.Value{
		"status": structpb.NewStringValue(res.String()),
	}
	if res == mission.ResultFailure {
		if lastErr := m.LastError(); lastErr != nil {
			fields["error"] = structpb.NewStringValue(lastErr.Error())
		}
	}
	if res.Terminal() {
		if outputs, err := snapshot(m); err == nil {
			fields["outputs"] = structpb.NewStructValue(outputs)
		} else {
			h.logger.Warn("remote outputs dropped", slog.String("error", err.Error()))
		}
	}
	return &structpb.Struct{Fields: fields}, nil
}

func snapshot(m *mission.Mission) (*structpb.Struct, error) {
	vars, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(vars))
	for name, c := range vars {
		out[name] = c.Any()
	}
	return structpb.NewStruct(out)
}

// Stop stops the session's mission.
func (h *Host) Stop(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_, m, err := h.session(req)
	if err != nil {
		return nil, err
	}
	if err := m.Stop(ctx); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &structpb.Struct{}, nil
}

// TeardownSession stops and forgets the session. Unknown sessions are ignored.
func (h *Host) TeardownSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["session_id"].GetStringValue()
	if m, ok := h.sessions.Take(id); ok {
		if err := m.Stop(context.WithoutCancel(ctx)); err != nil {
			h.logger.Warn("stop on teardown failed", slog.String("session_id", id), slog.String("error", err.Error()))
		}
		h.logger.Info("remote session closed", slog.String("session_id", id))
	}
	return &structpb.Struct{}, nil
}
