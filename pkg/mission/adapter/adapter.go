// Package adapter defines how mission leaves talk to slow external services
// without blocking the tick loop.
//
// Every service call is split in two phases. Start begins the operation and
// returns a Handle immediately. Poll reports its progress on later ticks and
// never waits. Cancel abandons it when the owning node is stopped or times
// out.
//
//	h, err := a.Start(ctx, adapter.NavigateToRequest{DestinationWaypointID: "dock"})
//	...
//	switch st := a.Poll(ctx, h); st.State {
//	case adapter.Pending:
//	case adapter.Done:
//	case adapter.Failed:
//	}
//
// Async turns a plain blocking function into an Adapter by running each
// operation on its own goroutine.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/mission/pkg/mission/expr"
)

var (
	// ErrUnknownHandle indicates Poll was called with a handle the adapter does not track.
	ErrUnknownHandle = errors.New("unknown adapter handle")

	// ErrClosed indicates the adapter no longer accepts operations.
	ErrClosed = errors.New("adapter closed")
)

// Handle identifies one in-flight operation.
type Handle string

// State is the progress of an operation.
type State int

const (
	Pending State = iota
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is the result of a Poll.
type Status struct {
	State State
	// Value is the response of a Done operation. It may be the zero Constant.
	Value expr.Constant
	// Err is set for Failed operations.
	Err error
}

// PendingStatus reports an operation still in progress.
func PendingStatus() Status { return Status{State: Pending} }

// DoneStatus reports success with an optional response value.
func DoneStatus(v expr.Constant) Status { return Status{State: Done, Value: v} }

// FailedStatus reports failure.
func FailedStatus(err error) Status { return Status{State: Failed, Err: err} }

// Terminal reports whether the operation has finished.
func (s Status) Terminal() bool { return s.State != Pending }

// Adapter is the two-phase contract for one kind of service request.
type Adapter[R any] interface {
	// Start begins an operation. An error means the request was rejected
	// outright and no handle exists.
	Start(ctx context.Context, req R) (Handle, error)

	// Poll reports progress without blocking. Once a terminal Status has been
	// returned the handle may be forgotten.
	Poll(ctx context.Context, h Handle) Status

	// Cancel abandons an operation. Cancelling an unknown or finished handle
	// is a no-op.
	Cancel(ctx context.Context, h Handle)
}

// Set groups the adapters a mission may need, one per leaf kind. Unset
// fields are only an error if the loaded graph uses that kind.
type Set struct {
	RobotCommand  Adapter[RobotCommandRequest]
	Power         Adapter[PowerRequest]
	NavigateTo    Adapter[NavigateToRequest]
	Localize      Adapter[LocalizeRequest]
	StoreMedia    Adapter[StoreMediaRequest]
	RobotState    Adapter[RobotStateRequest]
	GraphNavState Adapter[GraphNavStateRequest]
	RemoteGrpc    Adapter[RemoteGrpcRequest]
	Prompt        Adapter[PromptRequest]
}

// PanicError reports a panic recovered from an adapter operation.
type PanicError struct {
	Adapter string
	Value   any
	Stack   string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("adapter %s panicked: %v", e.Adapter, e.Value)
}
