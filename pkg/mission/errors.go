package mission

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/mission/pkg/mission/bind"
	"github.com/randalmurphal/mission/pkg/mission/blackboard"
)

// Sentinel errors for loading and validating a mission tree.
var (
	// ErrUnresolvedReference indicates a node_reference names no known reference id.
	ErrUnresolvedReference = errors.New("unresolved node reference")

	// ErrCyclicReference indicates references form a cycle.
	ErrCyclicReference = errors.New("cyclic node reference")

	// ErrDuplicateReference indicates two nodes share a reference id.
	ErrDuplicateReference = errors.New("duplicate reference id")

	// ErrEmptyComposite indicates a composite node has no child to run.
	ErrEmptyComposite = errors.New("composite node has no children")

	// ErrInvalidNode indicates a node's fields are unusable, for example a
	// node with both an impl and a reference, or a non-positive max_starts.
	ErrInvalidNode = errors.New("invalid node")

	// ErrUnknownParameter indicates a parameter that is neither declared nor bound.
	ErrUnknownParameter = bind.ErrUnknownParameter

	// ErrUnknownField indicates an override names a field the node does not have.
	ErrUnknownField = bind.ErrUnknownField
)

// Sentinel errors for creating and running a mission.
var (
	// ErrAdapterMissing indicates the graph uses a leaf kind with no adapter configured.
	ErrAdapterMissing = errors.New("adapter not configured")

	// ErrMissionActive indicates the blackboard was read while the mission is running.
	ErrMissionActive = errors.New("mission is active")

	// ErrNilContext indicates a nil context was passed to Tick or Run.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrNilGraph indicates NewMission was called without a graph.
	ErrNilGraph = errors.New("graph cannot be nil")

	// ErrMaxTicks indicates Run gave up after the configured number of ticks.
	ErrMaxTicks = errors.New("exceeded maximum ticks")
)

// Sentinel errors recorded when a tick turns into FAILURE.
var (
	// ErrNotFound indicates a blackboard variable is not visible from the current scope.
	ErrNotFound = blackboard.ErrNotFound

	// ErrRemoteTimeout indicates a RemoteGrpc node ran past its timeout.
	ErrRemoteTimeout = errors.New("remote mission timed out")
)

// NodeError wraps an error with node context.
type NodeError struct {
	// Node is the node name, or its reference id when unnamed.
	Node string
	// Kind is the node's impl kind.
	Kind Kind
	// Op is the phase that failed ("load", "validate", "tick", "override").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("node %q: %s: %v", e.Node, e.Op, e.Err)
	}
	return fmt.Sprintf("node %q (%s): %s: %v", e.Node, e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// CancellationError reports a run that stopped because its context ended.
type CancellationError struct {
	// RunID identifies the interrupted run.
	RunID string
	// Ticks is the number of root ticks completed before cancellation.
	Ticks int
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("mission run %s cancelled after %d ticks: %v", e.RunID, e.Ticks, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}
