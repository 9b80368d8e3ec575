package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/expr"
	"github.com/randalmurphal/mission/pkg/mission/registry"
)

// Broker is the prompt adapter. Start records and announces a question,
// Poll reports its answer without touching the store, and Cancel withdraws
// it.
//
// Status changes of open questions are serialized, so an answer and a cancel
// racing for the same question settle it exactly once. Listeners run after
// the change is recorded and may call back into the broker.
type Broker struct {
	settle    sync.Mutex
	store     Store
	logger    *slog.Logger
	now       func() time.Time
	open      *registry.Registry[string, *Question]
	listeners *registry.Registry[string, Listener]
}

var _ adapter.Adapter[adapter.PromptRequest] = (*Broker)(nil)

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithLogger sets the broker logger.
func WithLogger(logger *slog.Logger) BrokerOption {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock replaces time.Now for question timestamps.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBroker creates a broker that records questions in store.
func NewBroker(store Store, opts ...BrokerOption) *Broker {
	b := &Broker{
		store:     store,
		logger:    slog.Default(),
		now:       time.Now,
		open:      registry.New[string, *Question](),
		listeners: registry.New[string, Listener](),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn for every question event and returns a function
// that removes it.
func (b *Broker) Subscribe(fn Listener) func() {
	id := uuid.NewString()
	b.listeners.Register(id, fn)
	return func() { b.listeners.Delete(id) }
}

func (b *Broker) notify(q *Question) {
	ev := eventFor(q)
	b.listeners.Range(func(_ string, fn Listener) bool {
		fn(Event{Type: ev.Type, Question: q.Clone()})
		return true
	})
}

// Start asks a new question. The handle is the question id.
func (b *Broker) Start(ctx context.Context, req adapter.PromptRequest) (adapter.Handle, error) {
	q := &Question{
		ID:                      uuid.NewString(),
		Node:                    req.Node,
		Text:                    req.Text,
		Source:                  req.Source,
		Options:                 req.Options,
		ForAutonomousProcessing: req.ForAutonomousProcessing,
		Status:                  StatusPending,
		AskedAt:                 b.now(),
	}
	b.settle.Lock()
	if err := b.store.Save(ctx, q); err != nil {
		b.settle.Unlock()
		return "", fmt.Errorf("record question: %w", err)
	}
	b.open.Register(q.ID, q.Clone())
	b.settle.Unlock()

	b.logger.Info("question asked",
		slog.String("question_id", q.ID),
		slog.String("node", q.Node),
	)
	b.notify(q)
	return adapter.Handle(q.ID), nil
}

// Poll reports the answer code once the question has been answered.
// Terminal handles are forgotten.
func (b *Broker) Poll(_ context.Context, h adapter.Handle) adapter.Status {
	q, ok := b.open.Get(string(h))
	if !ok {
		return adapter.FailedStatus(fmt.Errorf("%w: %s", adapter.ErrUnknownHandle, h))
	}
	switch q.Status {
	case StatusAnswered:
		b.open.Delete(q.ID)
		return adapter.DoneStatus(expr.Int(q.AnswerCode))
	case StatusCancelled:
		b.open.Delete(q.ID)
		return adapter.FailedStatus(ErrCancelled)
	}
	return adapter.PendingStatus()
}

// Cancel withdraws a pending question and tells listeners.
func (b *Broker) Cancel(ctx context.Context, h adapter.Handle) {
	b.settle.Lock()
	q, ok := b.open.Take(string(h))
	if !ok || q.Status != StatusPending {
		b.settle.Unlock()
		return
	}
	q = q.Clone()
	q.Status = StatusCancelled
	if err := b.store.Save(ctx, q); err != nil {
		b.logger.Warn("failed to record cancelled question",
			slog.String("question_id", q.ID),
			slog.String("error", err.Error()),
		)
	}
	b.settle.Unlock()
	b.notify(q)
}

// Answer records the operator's answer to a pending question.
func (b *Broker) Answer(ctx context.Context, id string, code int64) error {
	b.settle.Lock()
	q, ok := b.open.Get(id)
	if !ok {
		stored, err := b.store.Get(ctx, id)
		if err != nil {
			b.settle.Unlock()
			return err
		}
		q = stored
	}
	if q.Status != StatusPending {
		b.settle.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, q.Status)
	}
	if !q.Accepts(code) {
		b.settle.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidAnswer, code)
	}

	answered := q.Clone()
	now := b.now()
	answered.Status = StatusAnswered
	answered.AnswerCode = code
	answered.AnsweredAt = &now
	if err := b.store.Save(ctx, answered); err != nil {
		b.settle.Unlock()
		return fmt.Errorf("record answer: %w", err)
	}
	settled := b.applyLocked(answered)
	b.settle.Unlock()

	if settled {
		b.notify(answered)
	}
	return nil
}

// apply folds an updated question into the open set. Updates for unknown
// questions or questions already settled are ignored.
func (b *Broker) apply(q *Question) {
	b.settle.Lock()
	settled := b.applyLocked(q)
	b.settle.Unlock()
	if settled {
		b.notify(q)
	}
}

func (b *Broker) applyLocked(q *Question) bool {
	cur, ok := b.open.Get(q.ID)
	if !ok || cur.Status != StatusPending || q.Status == StatusPending {
		return false
	}
	b.open.Register(q.ID, q.Clone())
	b.logger.Info("question settled",
		slog.String("question_id", q.ID),
		slog.String("status", string(q.Status)),
	)
	return true
}

// Get returns a question from the open set or the store.
func (b *Broker) Get(ctx context.Context, id string) (*Question, error) {
	if q, ok := b.open.Get(id); ok {
		return q.Clone(), nil
	}
	return b.store.Get(ctx, id)
}

// Pending lists unanswered questions, oldest first.
func (b *Broker) Pending(ctx context.Context) ([]*Question, error) {
	return b.store.List(ctx, StatusPending)
}

// Run applies answers written to the store by other processes until ctx
// ends. It returns nil when ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	updates, err := b.store.Watch(ctx)
	if err != nil {
		return err
	}
	// Catch answers saved before the subscription was live.
	for _, id := range b.open.Keys() {
		if q, err := b.store.Get(ctx, id); err == nil {
			b.apply(q)
		}
	}
	for q := range updates {
		b.apply(q)
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
