package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/mission/pkg/mission/expr"
	"github.com/randalmurphal/mission/pkg/mission/registry"
)

// Func is a blocking service call. It must honour ctx cancellation.
type Func[R any] func(ctx context.Context, req R) (expr.Constant, error)

// AsyncOption configures an Async adapter.
type AsyncOption func(*asyncConfig)

type asyncConfig struct {
	timeout time.Duration
	logger  *slog.Logger
}

// WithOperationTimeout bounds each operation. Zero means no bound.
func WithOperationTimeout(d time.Duration) AsyncOption {
	return func(c *asyncConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAsyncLogger sets the logger used for recovered panics.
func WithAsyncLogger(logger *slog.Logger) AsyncOption {
	return func(c *asyncConfig) {
		c.logger = logger
	}
}

// Async runs each operation of a blocking Func on its own goroutine.
//
// Operations are detached from the Start context's cancellation so a tick
// deadline does not kill a long navigation; they end when the Func returns,
// when Cancel is called, or when Close is called.
type Async[R any] struct {
	name string
	fn   Func[R]
	cfg  asyncConfig

	ops *registry.Registry[Handle, *operation]
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type operation struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	status Status
}

func (op *operation) set(s Status) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.status = s
}

func (op *operation) get() Status {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.status
}

var _ Adapter[struct{}] = (*Async[struct{}])(nil)

// NewAsync wraps fn. name identifies the adapter in errors and logs.
func NewAsync[R any](name string, fn Func[R], opts ...AsyncOption) *Async[R] {
	cfg := asyncConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Async[R]{
		name: name,
		fn:   fn,
		cfg:  cfg,
		ops:  registry.New[Handle, *operation](),
	}
}

// Name returns the adapter name.
func (a *Async[R]) Name() string { return a.name }

// Start launches fn(req) in the background.
func (a *Async[R]) Start(ctx context.Context, req R) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", fmt.Errorf("%s: %w", a.name, ErrClosed)
	}

	opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if a.cfg.timeout > 0 {
		var cancelTimeout context.CancelFunc
		opCtx, cancelTimeout = context.WithTimeout(opCtx, a.cfg.timeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}

	h := Handle(uuid.NewString())
	op := &operation{cancel: cancel, status: PendingStatus()}
	a.ops.Register(h, op)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		op.set(a.call(opCtx, req))
	}()
	return h, nil
}

func (a *Async[R]) call(ctx context.Context, req R) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Adapter: a.name, Value: r, Stack: string(debug.Stack())}
			if a.cfg.logger != nil {
				a.cfg.logger.Error("adapter panicked",
					slog.String("adapter", a.name),
					slog.Any("panic", r),
				)
			}
			status = FailedStatus(err)
		}
	}()

	v, err := a.fn(ctx, req)
	if err != nil {
		return FailedStatus(fmt.Errorf("%s: %w", a.name, err))
	}
	return DoneStatus(v)
}

// Poll returns the current status. Terminal handles are forgotten.
func (a *Async[R]) Poll(_ context.Context, h Handle) Status {
	op, ok := a.ops.Get(h)
	if !ok {
		return FailedStatus(fmt.Errorf("%s: %w: %s", a.name, ErrUnknownHandle, h))
	}
	s := op.get()
	if s.Terminal() {
		a.ops.Delete(h)
	}
	return s
}

// Cancel cancels the operation's context and forgets the handle.
func (a *Async[R]) Cancel(_ context.Context, h Handle) {
	if op, ok := a.ops.Take(h); ok {
		op.cancel()
	}
}

// Pending returns the number of tracked operations.
func (a *Async[R]) Pending() int { return a.ops.Len() }

// Close cancels every operation and waits for their goroutines to exit.
func (a *Async[R]) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.ops.Range(func(h Handle, op *operation) bool {
		a.ops.Delete(h)
		op.cancel()
		return true
	})
	a.wg.Wait()
	return nil
}
