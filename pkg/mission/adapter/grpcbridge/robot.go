package grpcbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// Full method names of the robot service. Requests are the JSON form of the
// adapter request types.
const (
	MethodRobotCommand  = "/" + robotServiceName + "/RobotCommand"
	MethodPower         = "/" + robotServiceName + "/Power"
	MethodNavigateTo    = "/" + robotServiceName + "/NavigateTo"
	MethodLocalize      = "/" + robotServiceName + "/Localize"
	MethodStoreMedia    = "/" + robotServiceName + "/StoreMedia"
	MethodRobotState    = "/" + robotServiceName + "/RobotState"
	MethodGraphNavState = "/" + robotServiceName + "/GraphNavState"
)

// valueField carries non-message results.
const valueField = "value"

// Unary is an adapter whose operations are single unary calls. The call runs
// in the background; Poll reports its reply.
type Unary[R adapter.Targeted] struct {
	*adapter.Async[R]
}

// NewUnary creates an adapter calling method on the endpoint the directory
// gives for each request's target.
func NewUnary[R adapter.Targeted](name, method string, dir Directory, pool *Pool, opts ...adapter.AsyncOption) *Unary[R] {
	call := func(ctx context.Context, req R) (expr.Constant, error) {
		endpoint, err := dir.Resolve(req.Destination())
		if err != nil {
			return expr.Constant{}, err
		}
		conn, err := pool.Get(endpoint)
		if err != nil {
			return expr.Constant{}, err
		}
		in, err := toStruct(req)
		if err != nil {
			return expr.Constant{}, err
		}
		out, err := invoke(ctx, conn, method, in)
		if err != nil {
			return expr.Constant{}, err
		}
		return fromReply(out)
	}
	return &Unary[R]{Async: adapter.NewAsync(name, call, opts...)}
}

func fromReply(out *structpb.Struct) (expr.Constant, error) {
	fields := out.GetFields()
	switch {
	case len(fields) == 0:
		return expr.Constant{}, nil
	case len(fields) == 1 && fields[valueField] != nil:
		return expr.FromAny(fields[valueField].AsInterface())
	}
	return expr.Message(out.AsMap()), nil
}

func toReply(c expr.Constant) (*structpb.Struct, error) {
	if c.IsZero() {
		return &structpb.Struct{}, nil
	}
	if m, ok := c.AsMessage(); ok {
		return structpb.NewStruct(m)
	}
	return structpb.NewStruct(map[string]any{valueField: c.Any()})
}

// RobotClient provides robot adapters that call a remote robot service.
type RobotClient struct {
	command  *Unary[adapter.RobotCommandRequest]
	power    *Unary[adapter.PowerRequest]
	navigate *Unary[adapter.NavigateToRequest]
	localize *Unary[adapter.LocalizeRequest]
	media    *Unary[adapter.StoreMediaRequest]
	state    *Unary[adapter.RobotStateRequest]
	navState *Unary[adapter.GraphNavStateRequest]
}

// NewRobotClient creates the client.
func NewRobotClient(dir Directory, pool *Pool, opts ...adapter.AsyncOption) *RobotClient {
	return &RobotClient{
		command:  NewUnary[adapter.RobotCommandRequest]("robot_command", MethodRobotCommand, dir, pool, opts...),
		power:    NewUnary[adapter.PowerRequest]("power", MethodPower, dir, pool, opts...),
		navigate: NewUnary[adapter.NavigateToRequest]("navigate_to", MethodNavigateTo, dir, pool, opts...),
		localize: NewUnary[adapter.LocalizeRequest]("localize", MethodLocalize, dir, pool, opts...),
		media:    NewUnary[adapter.StoreMediaRequest]("store_media", MethodStoreMedia, dir, pool, opts...),
		state:    NewUnary[adapter.RobotStateRequest]("robot_state", MethodRobotState, dir, pool, opts...),
		navState: NewUnary[adapter.GraphNavStateRequest]("graph_nav_state", MethodGraphNavState, dir, pool, opts...),
	}
}

// Adapters returns the robot-facing adapters.
func (c *RobotClient) Adapters() adapter.Set {
	return adapter.Set{
		RobotCommand:  c.command,
		Power:         c.power,
		NavigateTo:    c.navigate,
		Localize:      c.localize,
		StoreMedia:    c.media,
		RobotState:    c.state,
		GraphNavState: c.navState,
	}
}

// Close cancels in-flight calls.
func (c *RobotClient) Close() error {
	return errors.Join(
		c.command.Close(),
		c.power.Close(),
		c.navigate.Close(),
		c.localize.Close(),
		c.media.Close(),
		c.state.Close(),
		c.navState.Close(),
	)
}

// robotServer serves robot calls from a local adapter set.
type robotServer struct {
	set      adapter.Set
	interval time.Duration
	logger   *slog.Logger
}

// robotService is the handler type of the robot service.
type robotService interface {
	serve(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error)
}

func (s *robotServer) serve(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	var (
		c   expr.Constant
		err error
	)
	switch method {
	case MethodRobotCommand:
		c, err = drive(ctx, s, s.set.RobotCommand, in)
	case MethodPower:
		c, err = drive(ctx, s, s.set.Power, in)
	case MethodNavigateTo:
		c, err = drive(ctx, s, s.set.NavigateTo, in)
	case MethodLocalize:
		c, err = drive(ctx, s, s.set.Localize, in)
	case MethodStoreMedia:
		c, err = drive(ctx, s, s.set.StoreMedia, in)
	case MethodRobotState:
		c, err = drive(ctx, s, s.set.RobotState, in)
	case MethodGraphNavState:
		c, err = drive(ctx, s, s.set.GraphNavState, in)
	default:
		return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
	if err != nil {
		return nil, err
	}
	out, err := toReply(c)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// drive runs one operation on a local adapter to completion.
func drive[R any](ctx context.Context, s *robotServer, a adapter.Adapter[R], in *structpb.Struct) (expr.Constant, error) {
	if a == nil {
		return expr.Constant{}, status.Error(codes.Unimplemented, "no adapter for this call")
	}
	var req R
	if err := fromStruct(in, &req); err != nil {
		return expr.Constant{}, status.Error(codes.InvalidArgument, err.Error())
	}
	h, err := a.Start(ctx, req)
	if err != nil {
		return expr.Constant{}, status.Error(codes.FailedPrecondition, err.Error())
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		st := a.Poll(ctx, h)
		switch st.State {
		case adapter.Done:
			return st.Value, nil
		case adapter.Failed:
			s.logger.Debug("robot call failed", slog.String("error", fmt.Sprint(st.Err)))
			return expr.Constant{}, status.Error(codes.Aborted, fmt.Sprint(st.Err))
		}
		select {
		case <-ctx.Done():
			a.Cancel(context.WithoutCancel(ctx), h)
			return expr.Constant{}, status.FromContextError(ctx.Err()).Err()
		case <-ticker.C:
		}
	}
}

// RegisterRobotServer serves set as the robot service on s. Calls block
// until the local operation finishes; the server polls it every interval.
func RegisterRobotServer(s grpc.ServiceRegistrar, set adapter.Set, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := &robotServer{set: set, interval: interval, logger: logger}

	methods := []string{
		MethodRobotCommand, MethodPower, MethodNavigateTo, MethodLocalize,
		MethodStoreMedia, MethodRobotState, MethodGraphNavState,
	}
	desc := grpc.ServiceDesc{
		ServiceName: robotServiceName,
		HandlerType: (*robotService)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "mission/robot/v1/robot.proto",
	}
	for _, full := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: full[len(robotServiceName)+2:],
			Handler: handler(func(rs robotService, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return rs.serve(ctx, full, in)
			}, full),
		})
	}
	s.RegisterService(&desc, srv)
}
