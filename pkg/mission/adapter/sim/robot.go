// Package sim provides a simulated robot that serves every robot-facing
// adapter. It is used for dry runs from the command line and for tests that
// need services which take time to answer.
//
//	robot := sim.New(sim.WithWaypoints("w-dock", "w-valve"))
//	defer robot.Close()
//
//	set := robot.Adapters()
//	set.Prompt = broker
//	m, err := mission.NewMission(g, mission.WithAdapters(set))
//
// Each operation sleeps for its configured duration before it completes, so
// missions tick several times while a navigation or command is in flight.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/expr"
)

var (
	// ErrNotPowered indicates a command or navigation while motors are off.
	ErrNotPowered = errors.New("robot is not powered")

	// ErrNotLocalized indicates navigation before the robot was localized.
	ErrNotLocalized = errors.New("robot is not localized")

	// ErrUnknownWaypoint indicates a waypoint missing from the map.
	ErrUnknownWaypoint = errors.New("unknown waypoint")

	// ErrUnknownPowerRequest indicates a power request other than on or off.
	ErrUnknownPowerRequest = errors.New("unknown power request")
)

// Timings sets how long each simulated operation takes.
type Timings struct {
	Command  time.Duration
	Power    time.Duration
	Navigate time.Duration
	Localize time.Duration
	Media    time.Duration
	State    time.Duration
}

// DefaultTimings returns timings that make a dry run look plausible.
func DefaultTimings() Timings {
	return Timings{
		Command:  500 * time.Millisecond,
		Power:    time.Second,
		Navigate: 3 * time.Second,
		Localize: 500 * time.Millisecond,
		Media:    200 * time.Millisecond,
		State:    20 * time.Millisecond,
	}
}

// Media is one stored capture.
type Media struct {
	Camera string
	Type   string
	Tag    string
	At     time.Time
}

// Robot is the simulated robot. Its methods are safe for concurrent use.
type Robot struct {
	timings Timings
	logger  *slog.Logger
	drain   float64
	faults  map[string]error

	mu        sync.Mutex
	powered   bool
	localized bool
	waypoint  string
	waypoints []string
	battery   float64
	commands  []map[string]any
	media     []Media

	command  *adapter.Async[adapter.RobotCommandRequest]
	power    *adapter.Async[adapter.PowerRequest]
	navigate *adapter.Async[adapter.NavigateToRequest]
	localize *adapter.Async[adapter.LocalizeRequest]
	store    *adapter.Async[adapter.StoreMediaRequest]
	state    *adapter.Async[adapter.RobotStateRequest]
	navState *adapter.Async[adapter.GraphNavStateRequest]
}

// Option configures a Robot.
type Option func(*Robot)

// WithTimings replaces DefaultTimings.
func WithTimings(t Timings) Option {
	return func(r *Robot) {
		r.timings = t
	}
}

// WithLogger sets the logger for simulated operations.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Robot) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithWaypoints sets the map. The robot starts at the first waypoint. An
// empty map accepts any destination.
func WithWaypoints(ids ...string) Option {
	return func(r *Robot) {
		r.waypoints = slices.Clone(ids)
		if len(ids) > 0 {
			r.waypoint = ids[0]
		}
	}
}

// WithBattery sets the starting charge in percent and how much each
// navigation drains.
func WithBattery(percent, drainPerNavigation float64) Option {
	return func(r *Robot) {
		r.battery = percent
		r.drain = drainPerNavigation
	}
}

// WithFault makes every operation of the named adapter fail with err.
// Names are command, power, navigate, localize, media, state and graph_nav_state.
func WithFault(name string, err error) Option {
	return func(r *Robot) {
		r.faults[name] = err
	}
}

// New creates a robot with motors off and not localized.
func New(opts ...Option) *Robot {
	r := &Robot{
		timings: DefaultTimings(),
		logger:  slog.Default(),
		faults:  make(map[string]error),
		battery: 100,
	}
	for _, opt := range opts {
		opt(r)
	}

	asyncOpts := []adapter.AsyncOption{adapter.WithAsyncLogger(r.logger)}
	r.command = adapter.NewAsync("command", r.doCommand, asyncOpts...)
	r.power = adapter.NewAsync("power", r.doPower, asyncOpts...)
	r.navigate = adapter.NewAsync("navigate", r.doNavigate, asyncOpts...)
	r.localize = adapter.NewAsync("localize", r.doLocalize, asyncOpts...)
	r.store = adapter.NewAsync("media", r.doStoreMedia, asyncOpts...)
	r.state = adapter.NewAsync("state", r.doRobotState, asyncOpts...)
	r.navState = adapter.NewAsync("graph_nav_state", r.doGraphNavState, asyncOpts...)
	return r
}

// Adapters returns the robot-facing adapters. RemoteGrpc and Prompt are left
// for the caller to fill.
func (r *Robot) Adapters() adapter.Set {
	return adapter.Set{
		RobotCommand:  r.command,
		Power:         r.power,
		NavigateTo:    r.navigate,
		Localize:      r.localize,
		StoreMedia:    r.store,
		RobotState:    r.state,
		GraphNavState: r.navState,
	}
}

// Close cancels all in-flight operations and waits for them.
func (r *Robot) Close() error {
	return errors.Join(
		r.command.Close(),
		r.power.Close(),
		r.navigate.Close(),
		r.localize.Close(),
		r.store.Close(),
		r.state.Close(),
		r.navState.Close(),
	)
}

// Powered reports whether the motors are on.
func (r *Robot) Powered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.powered
}

// Waypoint returns the waypoint the robot is at.
func (r *Robot) Waypoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waypoint
}

// Commands returns the robot commands executed so far.
func (r *Robot) Commands() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.commands)
}

// Media returns the captures stored so far.
func (r *Robot) Media() []Media {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.media)
}

// wait sleeps for d or until ctx ends.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Robot) begin(ctx context.Context, name string, d time.Duration) error {
	if err := r.faults[name]; err != nil {
		return err
	}
	return wait(ctx, d)
}

func (r *Robot) doCommand(ctx context.Context, req adapter.RobotCommandRequest) (expr.Constant, error) {
	if err := r.begin(ctx, "command", r.timings.Command); err != nil {
		return expr.Constant{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.powered {
		return expr.Constant{}, ErrNotPowered
	}
	r.commands = append(r.commands, req.Command)
	r.logger.Debug("sim robot command", slog.Any("command", req.Command))
	return expr.Message(map[string]any{"status": "STATUS_PROCESSING"}), nil
}

func (r *Robot) doPower(ctx context.Context, req adapter.PowerRequest) (expr.Constant, error) {
	var on bool
	switch req.Request {
	case "REQUEST_ON", "REQUEST_ON_MOTORS", "ON":
		on = true
	case "REQUEST_OFF", "REQUEST_OFF_MOTORS", "OFF":
	default:
		return expr.Constant{}, fmt.Errorf("%w: %q", ErrUnknownPowerRequest, req.Request)
	}
	if err := r.begin(ctx, "power", r.timings.Power); err != nil {
		return expr.Constant{}, err
	}
	r.mu.Lock()
	r.powered = on
	r.mu.Unlock()
	r.logger.Info("sim robot power", slog.Bool("powered", on))
	return expr.Constant{}, nil
}

func (r *Robot) doNavigate(ctx context.Context, req adapter.NavigateToRequest) (expr.Constant, error) {
	r.mu.Lock()
	switch {
	case !r.powered:
		r.mu.Unlock()
		return expr.Constant{}, ErrNotPowered
	case !r.localized:
		r.mu.Unlock()
		return expr.Constant{}, ErrNotLocalized
	case len(r.waypoints) > 0 && !slices.Contains(r.waypoints, req.DestinationWaypointID):
		r.mu.Unlock()
		return expr.Constant{}, fmt.Errorf("%w: %s", ErrUnknownWaypoint, req.DestinationWaypointID)
	}
	r.mu.Unlock()

	if err := r.begin(ctx, "navigate", r.timings.Navigate); err != nil {
		return expr.Constant{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.waypoint = req.DestinationWaypointID
	r.battery = max(0, r.battery-r.drain)
	r.logger.Info("sim robot arrived", slog.String("waypoint_id", r.waypoint))
	return expr.Message(map[string]any{
		"status":      "STATUS_REACHED_GOAL",
		"waypoint_id": r.waypoint,
	}), nil
}

func (r *Robot) doLocalize(ctx context.Context, req adapter.LocalizeRequest) (expr.Constant, error) {
	if err := r.begin(ctx, "localize", r.timings.Localize); err != nil {
		return expr.Constant{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := req.LocalizationRequest["waypoint_id"].(string); ok && id != "" {
		r.waypoint = id
	}
	r.localized = true
	return expr.Message(map[string]any{
		"status":      "STATUS_OK",
		"waypoint_id": r.waypoint,
	}), nil
}

func (r *Robot) doStoreMedia(ctx context.Context, req adapter.StoreMediaRequest) (expr.Constant, error) {
	if err := r.begin(ctx, "media", r.timings.Media); err != nil {
		return expr.Constant{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.media = append(r.media, Media{Camera: req.Camera, Type: req.Type, Tag: req.Tag, At: time.Now()})
	return expr.Constant{}, nil
}

func (r *Robot) doRobotState(ctx context.Context, _ adapter.RobotStateRequest) (expr.Constant, error) {
	if err := r.begin(ctx, "state", r.timings.State); err != nil {
		return expr.Constant{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return expr.Message(map[string]any{
		"powered":         r.powered,
		"battery_percent": r.battery,
		"waypoint_id":     r.waypoint,
	}), nil
}

func (r *Robot) doGraphNavState(ctx context.Context, req adapter.GraphNavStateRequest) (expr.Constant, error) {
	if err := r.begin(ctx, "graph_nav_state", r.timings.State); err != nil {
		return expr.Constant{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state := map[string]any{
		"localized":   r.localized,
		"waypoint_id": r.waypoint,
	}
	if req.WaypointID != "" {
		state["at_waypoint"] = r.waypoint == req.WaypointID
	}
	return expr.Message(state), nil
}
