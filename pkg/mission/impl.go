package mission

import (
	"time"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// Field tags give each impl field its wire name. Documents are decoded
// through them and overrides address fields by them.

// Sequence ticks children in order until one fails.
type Sequence struct {
	// AlwaysRestart starts from the first child on every tick instead of the
	// one left running.
	AlwaysRestart bool    `mapstructure:"always_restart"`
	Children      []*Node `mapstructure:"children"`
}

// Selector ticks children in order until one succeeds.
type Selector struct {
	AlwaysRestart bool    `mapstructure:"always_restart"`
	Children      []*Node `mapstructure:"children"`
}

// Repeat starts its child up to MaxStarts times.
type Repeat struct {
	MaxStarts int   `mapstructure:"max_starts"`
	Child     *Node `mapstructure:"child"`
	// StartCounterStateName, when set, defines the 0-based start count in a
	// scope visible to the child.
	StartCounterStateName string `mapstructure:"start_counter_state_name"`
	// RespectChildFailure ends the repeat with FAILURE as soon as the child fails.
	RespectChildFailure bool `mapstructure:"respect_child_failure"`
}

// Retry restarts a failing child up to MaxAttempts times.
type Retry struct {
	MaxAttempts             int    `mapstructure:"max_attempts"`
	Child                   *Node  `mapstructure:"child"`
	AttemptCounterStateName string `mapstructure:"attempt_counter_state_name"`
}

// ForDuration runs its child for at most Duration.
type ForDuration struct {
	Duration time.Duration `mapstructure:"duration"`
	Child    *Node         `mapstructure:"child"`
	// TimeRemainingName, when set, defines the remaining seconds (float) for the child.
	TimeRemainingName string `mapstructure:"time_remaining_name"`
	// TimeoutChild runs after the duration elapses; its result replaces FAILURE.
	TimeoutChild *Node `mapstructure:"timeout_child"`
}

// SimpleParallel runs a secondary child for as long as the primary runs.
type SimpleParallel struct {
	Primary   *Node `mapstructure:"primary"`
	Secondary *Node `mapstructure:"secondary"`
}

// Condition compares two values.
type Condition struct {
	Lhs       expr.Value     `mapstructure:"lhs"`
	Rhs       expr.Value     `mapstructure:"rhs"`
	Operation expr.Operation `mapstructure:"operation"`
}

// BosdynRobotState fetches robot state and exposes it to its child.
type BosdynRobotState struct {
	adapter.Target `mapstructure:",squash"`

	Child     *Node  `mapstructure:"child"`
	StateName string `mapstructure:"state_name"`
}

// BosdynRobotCommand issues a robot command.
type BosdynRobotCommand struct {
	adapter.Target `mapstructure:",squash"`

	Command map[string]any `mapstructure:"command"`
}

// BosdynPowerRequest changes motor power.
type BosdynPowerRequest struct {
	adapter.Target `mapstructure:",squash"`

	Request string `mapstructure:"request"`
}

// BosdynNavigateTo drives to a waypoint.
type BosdynNavigateTo struct {
	adapter.Target `mapstructure:",squash"`

	DestinationWaypointID string         `mapstructure:"destination_waypoint_id"`
	RouteGenParams        map[string]any `mapstructure:"route_gen_params"`
	TravelParams          map[string]any `mapstructure:"travel_params"`
	// NavigateToResponseBlackboardKey, when set, receives the final response.
	// The variable must already be defined.
	NavigateToResponseBlackboardKey string `mapstructure:"navigate_to_response_blackboard_key"`
}

// BosdynGraphNavState fetches localization state and exposes it to its child.
type BosdynGraphNavState struct {
	adapter.Target `mapstructure:",squash"`

	Child      *Node  `mapstructure:"child"`
	StateName  string `mapstructure:"state_name"`
	WaypointID string `mapstructure:"waypoint_id"`
}

// BosdynGraphNavLocalize localizes the robot on the map.
type BosdynGraphNavLocalize struct {
	adapter.Target `mapstructure:",squash"`

	LocalizationRequest map[string]any `mapstructure:"localization_request"`
	AllowBadQuality     bool           `mapstructure:"allow_bad_quality"`
}

// RemoteGrpc runs a mission hosted by a remote service.
type RemoteGrpc struct {
	adapter.Target `mapstructure:",squash"`

	// Timeout fails the node when the remote session runs longer. Zero means no limit.
	Timeout        time.Duration   `mapstructure:"timeout"`
	LeaseResources []string        `mapstructure:"lease_resources"`
	Inputs         []expr.KeyValue `mapstructure:"inputs"`
}

// Sleep succeeds after Seconds.
type Sleep struct {
	Seconds float64 `mapstructure:"seconds"`
	// RestartAfterStop restarts the timer when a stopped sleep is ticked
	// again. Otherwise the original timer keeps counting.
	RestartAfterStop bool `mapstructure:"restart_after_stop"`
}

// Prompt asks a question and exposes the answer code to its child.
type Prompt struct {
	// AlwaysReprompt asks on every entry. Otherwise a previous answer is reused.
	AlwaysReprompt bool `mapstructure:"always_reprompt"`
	// Text may contain ${name} placeholders filled from the blackboard.
	Text string `mapstructure:"text"`
	// Source is the variable name the answer code is defined under.
	Source                  string                 `mapstructure:"source"`
	Options                 []adapter.PromptOption `mapstructure:"options"`
	Child                   *Node                  `mapstructure:"child"`
	ForAutonomousProcessing bool                   `mapstructure:"for_autonomous_processing"`
}

// SpotCamStoreMedia captures camera media.
type SpotCamStoreMedia struct {
	adapter.Target `mapstructure:",squash"`

	Camera string `mapstructure:"camera"`
	Type   string `mapstructure:"type"`
	Tag    string `mapstructure:"tag"`
}

// DefineBlackboard defines variables in a new scope for its child.
type DefineBlackboard struct {
	BlackboardVariables []expr.KeyValue `mapstructure:"blackboard_variables"`
	Child               *Node           `mapstructure:"child"`
}

// SetBlackboard writes already-defined variables.
type SetBlackboard struct {
	BlackboardVariables []expr.KeyValue `mapstructure:"blackboard_variables"`
}

// ConstantResult returns the same result on every tick.
type ConstantResult struct {
	Result Result `mapstructure:"result"`
}

func (*Sequence) Kind() Kind               { return KindSequence }
func (*Selector) Kind() Kind               { return KindSelector }
func (*Repeat) Kind() Kind                 { return KindRepeat }
func (*Retry) Kind() Kind                  { return KindRetry }
func (*ForDuration) Kind() Kind            { return KindForDuration }
func (*SimpleParallel) Kind() Kind         { return KindSimpleParallel }
func (*Condition) Kind() Kind              { return KindCondition }
func (*BosdynRobotState) Kind() Kind       { return KindRobotState }
func (*BosdynRobotCommand) Kind() Kind     { return KindRobotCommand }
func (*BosdynPowerRequest) Kind() Kind     { return KindPowerRequest }
func (*BosdynNavigateTo) Kind() Kind       { return KindNavigateTo }
func (*BosdynGraphNavState) Kind() Kind    { return KindGraphNavState }
func (*BosdynGraphNavLocalize) Kind() Kind { return KindGraphNavLocalize }
func (*RemoteGrpc) Kind() Kind             { return KindRemoteGrpc }
func (*Sleep) Kind() Kind                  { return KindSleep }
func (*Prompt) Kind() Kind                 { return KindPrompt }
func (*SpotCamStoreMedia) Kind() Kind      { return KindSpotCamStoreMedia }
func (*DefineBlackboard) Kind() Kind       { return KindDefineBlackboard }
func (*SetBlackboard) Kind() Kind          { return KindSetBlackboard }
func (*ConstantResult) Kind() Kind         { return KindConstantResult }

func (*Sequence) sealed()               {}
func (*Selector) sealed()               {}
func (*Repeat) sealed()                 {}
func (*Retry) sealed()                  {}
func (*ForDuration) sealed()            {}
func (*SimpleParallel) sealed()         {}
func (*Condition) sealed()              {}
func (*BosdynRobotState) sealed()       {}
func (*BosdynRobotCommand) sealed()     {}
func (*BosdynPowerRequest) sealed()     {}
func (*BosdynNavigateTo) sealed()       {}
func (*BosdynGraphNavState) sealed()    {}
func (*BosdynGraphNavLocalize) sealed() {}
func (*RemoteGrpc) sealed()             {}
func (*Sleep) sealed()                  {}
func (*Prompt) sealed()                 {}
func (*SpotCamStoreMedia) sealed()      {}
func (*DefineBlackboard) sealed()       {}
func (*SetBlackboard) sealed()          {}
func (*ConstantResult) sealed()         {}

// NewImpl returns an empty impl for kind, or nil for an unknown kind.
func NewImpl(kind Kind) Impl {
	switch kind {
	case KindSequence:
		return &Sequence{}
	case KindSelector:
		return &Selector{}
	case KindRepeat:
		return &Repeat{}
	case KindRetry:
		return &Retry{}
	case KindForDuration:
		return &ForDuration{}
	case KindSimpleParallel:
		return &SimpleParallel{}
	case KindCondition:
		return &Condition{}
	case KindRobotState:
		return &BosdynRobotState{}
	case KindRobotCommand:
		return &BosdynRobotCommand{}
	case KindPowerRequest:
		return &BosdynPowerRequest{}
	case KindNavigateTo:
		return &BosdynNavigateTo{}
	case KindGraphNavState:
		return &BosdynGraphNavState{}
	case KindGraphNavLocalize:
		return &BosdynGraphNavLocalize{}
	case KindRemoteGrpc:
		return &RemoteGrpc{}
	case KindSleep:
		return &Sleep{}
	case KindPrompt:
		return &Prompt{}
	case KindSpotCamStoreMedia:
		return &SpotCamStoreMedia{}
	case KindDefineBlackboard:
		return &DefineBlackboard{}
	case KindSetBlackboard:
		return &SetBlackboard{}
	case KindConstantResult:
		return &ConstantResult{}
	}
	return nil
}

// Kinds lists every impl kind.
func Kinds() []Kind {
	return []Kind{
		KindSequence, KindSelector, KindRepeat, KindRetry, KindForDuration, KindSimpleParallel,
		KindCondition, KindRobotState, KindRobotCommand, KindPowerRequest, KindNavigateTo,
		KindGraphNavState, KindGraphNavLocalize, KindRemoteGrpc, KindSleep, KindPrompt,
		KindSpotCamStoreMedia, KindDefineBlackboard, KindSetBlackboard, KindConstantResult,
	}
}
