package mission

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// Result is the outcome of ticking a node.
type Result int

const (
	// ResultUnknown is the zero Result and is never returned by a tick.
	ResultUnknown Result = iota
	ResultRunning
	ResultSuccess
	ResultFailure
)

// String returns RUNNING, SUCCESS or FAILURE.
func (r Result) String() string {
	switch r {
	case ResultRunning:
		return "RUNNING"
	case ResultSuccess:
		return "SUCCESS"
	case ResultFailure:
		return "FAILURE"
	}
	return "UNKNOWN"
}

// Terminal reports whether r is SUCCESS or FAILURE.
func (r Result) Terminal() bool {
	return r == ResultSuccess || r == ResultFailure
}

// ParseResult accepts "success", "RESULT_SUCCESS" and similar.
func ParseResult(s string) (Result, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "RESULT_")
	switch name {
	case "RUNNING":
		return ResultRunning, nil
	case "SUCCESS":
		return ResultSuccess, nil
	case "FAILURE":
		return ResultFailure, nil
	}
	return ResultUnknown, fmt.Errorf("%w: unknown result %q", ErrInvalidNode, s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Result) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Result) UnmarshalText(b []byte) error {
	parsed, err := ParseResult(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Kind names a node implementation. It is also the key used for the impl in
// mission documents.
type Kind string

const (
	KindSequence          Kind = "Sequence"
	KindSelector          Kind = "Selector"
	KindRepeat            Kind = "Repeat"
	KindRetry             Kind = "Retry"
	KindForDuration       Kind = "ForDuration"
	KindSimpleParallel    Kind = "SimpleParallel"
	KindCondition         Kind = "Condition"
	KindRobotState        Kind = "BosdynRobotState"
	KindRobotCommand      Kind = "BosdynRobotCommand"
	KindPowerRequest      Kind = "BosdynPowerRequest"
	KindNavigateTo        Kind = "BosdynNavigateTo"
	KindGraphNavState     Kind = "BosdynGraphNavState"
	KindGraphNavLocalize  Kind = "BosdynGraphNavLocalize"
	KindRemoteGrpc        Kind = "RemoteGrpc"
	KindSleep             Kind = "Sleep"
	KindPrompt            Kind = "Prompt"
	KindSpotCamStoreMedia Kind = "SpotCamStoreMedia"
	KindDefineBlackboard  Kind = "DefineBlackboard"
	KindSetBlackboard     Kind = "SetBlackboard"
	KindConstantResult    Kind = "ConstantResult"

	// KindReference marks a graph vertex standing for a node_reference site.
	KindReference Kind = "NodeReference"
)

// Node is one element of a serialized mission tree. Exactly one of Impl and
// NodeReference is set.
type Node struct {
	// Name is a human-readable label used in logs and errors.
	Name string
	// UserData is opaque to the engine.
	UserData map[string]any
	// ReferenceID lets other nodes point at this one with NodeReference.
	ReferenceID string
	// Impl is the node's behaviour.
	Impl Impl
	// NodeReference names another node's ReferenceID to run in this position.
	NodeReference string
	// ParameterValues bind parameters for this node and everything it runs.
	ParameterValues []expr.KeyValue
	// Overrides rewrite impl fields, by wire name, when the node is entered.
	Overrides []expr.KeyValue
	// Parameters declares the parameters this node expects from its callers.
	Parameters []expr.VariableDeclaration
}

// label returns the best name for messages.
func (n *Node) label() string {
	switch {
	case n == nil:
		return "<nil>"
	case n.Name != "":
		return n.Name
	case n.ReferenceID != "":
		return n.ReferenceID
	case n.NodeReference != "":
		return "ref:" + n.NodeReference
	case n.Impl != nil:
		return string(n.Impl.Kind())
	}
	return "<unnamed>"
}

// Tree is a complete serialized mission.
type Tree struct {
	// Name labels the mission in logs, metrics and history.
	Name string
	// Root is the node ticked by the engine.
	Root *Node
	// Shared holds nodes that exist only to be referenced.
	Shared []*Node
}

// Impl is a node implementation. The set of implementations is closed; the
// engine dispatches over them with a single type switch.
type Impl interface {
	Kind() Kind
	sealed()
}
