package grpcbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/expr"
)

var (
	// ErrRemoteFailure indicates the remote mission finished with FAILURE.
	ErrRemoteFailure = errors.New("remote mission failed")

	// ErrBadResponse indicates a reply that does not follow the service contract.
	ErrBadResponse = errors.New("malformed remote response")
)

const (
	establishTimeout = 10 * time.Second
	cleanupTimeout   = 5 * time.Second
)

// Remote is the RemoteGrpc adapter. Each operation runs one session against
// the service named by the request: it establishes the session, ticks it at
// the poll interval until the remote mission is terminal and tears it down.
// Cancelling the operation stops the remote mission first.
type Remote struct {
	dir      Directory
	pool     *Pool
	interval time.Duration
	logger   *slog.Logger
	async    *adapter.Async[adapter.RemoteGrpcRequest]
}

var _ adapter.Adapter[adapter.RemoteGrpcRequest] = (*Remote)(nil)

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithTickInterval sets how often the remote session is ticked. Default: 100ms
func WithTickInterval(d time.Duration) RemoteOption {
	return func(r *Remote) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(logger *slog.Logger) RemoteOption {
	return func(r *Remote) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRemote creates the adapter.
func NewRemote(dir Directory, pool *Pool, opts ...RemoteOption) *Remote {
	r := &Remote{
		dir:      dir,
		pool:     pool,
		interval: 100 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.async = adapter.NewAsync("remote_grpc", r.session, adapter.WithAsyncLogger(r.logger))
	return r
}

// Start begins a remote session.
func (r *Remote) Start(ctx context.Context, req adapter.RemoteGrpcRequest) (adapter.Handle, error) {
	return r.async.Start(ctx, req)
}

// Poll reports the session's progress. A successful session carries the
// remote outputs as a message.
func (r *Remote) Poll(ctx context.Context, h adapter.Handle) adapter.Status {
	return r.async.Poll(ctx, h)
}

// Cancel stops and tears down the remote session.
func (r *Remote) Cancel(ctx context.Context, h adapter.Handle) {
	r.async.Cancel(ctx, h)
}

// Close cancels every session and waits for teardown.
func (r *Remote) Close() error {
	return r.async.Close()
}

func (r *Remote) session(ctx context.Context, req adapter.RemoteGrpcRequest) (expr.Constant, error) {
	endpoint, err := r.dir.Resolve(req.Target)
	if err != nil {
		return expr.Constant{}, err
	}
	conn, err := r.pool.Get(endpoint)
	if err != nil {
		return expr.Constant{}, err
	}

	resources := make([]any, len(req.LeaseResources))
	for i, res := range req.LeaseResources {
		resources[i] = res
	}
	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	in, err := structpb.NewStruct(map[string]any{
		"node":            req.Node,
		"lease_resources": resources,
		"inputs":          inputs,
	})
	if err != nil {
		return expr.Constant{}, fmt.Errorf("encode session request: %w", err)
	}

	// A cancel during establish must not lose the session id, or the remote
	// mission is never stopped.
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), establishTimeout)
	resp, err := invoke(ectx, conn, MethodEstablishSession, in)
	cancel()
	if err != nil {
		return expr.Constant{}, fmt.Errorf("establish session: %w", err)
	}
	id := resp.GetFields()["session_id"].GetStringValue()
	if id == "" {
		return expr.Constant{}, fmt.Errorf("%w: no session_id", ErrBadResponse)
	}
	logger := r.logger.With(slog.String("session_id", id), slog.String("endpoint", endpoint))
	logger.Debug("remote session established")

	// Stop and teardown must reach the server after ctx is cancelled.
	cleanup := func(method string) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if _, err := invoke(cctx, conn, method, sessionRequest(id)); err != nil {
			logger.Warn("remote session cleanup failed",
				slog.String("method", method),
				slog.String("error", err.Error()),
			)
		}
	}
	defer cleanup(MethodTeardownSession)

	if ctx.Err() != nil {
		cleanup(MethodStop)
		return expr.Constant{}, ctx.Err()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		out, err := invoke(ctx, conn, MethodTick, sessionRequest(id))
		if err != nil {
			if ctx.Err() != nil {
				cleanup(MethodStop)
				return expr.Constant{}, ctx.Err()
			}
			return expr.Constant{}, fmt.Errorf("tick session: %w", err)
		}

		fields := out.GetFields()
		switch status := fields["status"].GetStringValue(); status {
		case "SUCCESS":
			if outputs := fields["outputs"].GetStructValue(); outputs != nil {
				return expr.Message(outputs.AsMap()), nil
			}
			return expr.Constant{}, nil
		case "FAILURE":
			if msg := fields["error"].GetStringValue(); msg != "" {
				return expr.Constant{}, fmt.Errorf("%w: %s", ErrRemoteFailure, msg)
			}
			return expr.Constant{}, ErrRemoteFailure
		case "RUNNING":
		default:
			return expr.Constant{}, fmt.Errorf("%w: status %q", ErrBadResponse, status)
		}

		select {
		case <-ctx.Done():
			cleanup(MethodStop)
			return expr.Constant{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
