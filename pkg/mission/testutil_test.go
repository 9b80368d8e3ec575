package mission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// fakeClock is a manually stepped clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scripted is an adapter whose operations finish when the test says so.
// With auto set, every new operation finishes immediately with that status.
type scripted[R any] struct {
	mu        sync.Mutex
	auto      *adapter.Status
	startErr  error
	requests  []R
	status    map[adapter.Handle]adapter.Status
	cancelled []adapter.Handle
}

func newScripted[R any]() *scripted[R] {
	return &scripted[R]{status: make(map[adapter.Handle]adapter.Status)}
}

func autoDone[R any](v expr.Constant) *scripted[R] {
	s := newScripted[R]()
	st := adapter.DoneStatus(v)
	s.auto = &st
	return s
}

func autoFail[R any](err error) *scripted[R] {
	s := newScripted[R]()
	st := adapter.FailedStatus(err)
	s.auto = &st
	return s
}

func handleFor(i int) adapter.Handle { return adapter.Handle(fmt.Sprintf("op-%d", i)) }

func (s *scripted[R]) Start(_ context.Context, req R) (adapter.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return "", s.startErr
	}
	s.requests = append(s.requests, req)
	h := handleFor(len(s.requests) - 1)
	if s.auto != nil {
		s.status[h] = *s.auto
	} else {
		s.status[h] = adapter.PendingStatus()
	}
	return h, nil
}

func (s *scripted[R]) Poll(_ context.Context, h adapter.Handle) adapter.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[h]
	if !ok {
		return adapter.FailedStatus(adapter.ErrUnknownHandle)
	}
	return st
}

func (s *scripted[R]) Cancel(_ context.Context, h adapter.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, h)
	s.status[h] = adapter.FailedStatus(context.Canceled)
}

// setAuto makes every later operation finish immediately with st.
func (s *scripted[R]) setAuto(st adapter.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auto = &st
}

// finish completes the i-th started operation.
func (s *scripted[R]) finish(i int, st adapter.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[handleFor(i)] = st
}

func (s *scripted[R]) starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scripted[R]) request(i int) R {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func (s *scripted[R]) cancels() []adapter.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]adapter.Handle(nil), s.cancelled...)
}

// Node builders

func node(name string, impl Impl) *Node {
	return &Node{Name: name, Impl: impl}
}

func ref(name, target string) *Node {
	return &Node{Name: name, NodeReference: target}
}

func constant(r Result) *Node {
	return node("const-"+r.String(), &ConstantResult{Result: r})
}

func sleep(name string, seconds float64) *Node {
	return node(name, &Sleep{Seconds: seconds})
}

func sequence(name string, children ...*Node) *Node {
	return node(name, &Sequence{Children: children})
}

func selector(name string, children ...*Node) *Node {
	return node(name, &Selector{Children: children})
}

func command(name string) *Node {
	return node(name, &BosdynRobotCommand{Command: map[string]any{"stand": true}})
}

func condition(name string, lhs expr.Value, op expr.Operation, rhs expr.Value) *Node {
	return node(name, &Condition{Lhs: lhs, Rhs: rhs, Operation: op})
}

func kv(key string, v expr.Value) expr.KeyValue {
	return expr.KeyValue{Key: key, Value: v}
}

// harness runs a mission against a fake clock.
type harness struct {
	t     *testing.T
	m     *Mission
	clock *fakeClock
	ctx   context.Context
}

func mustLoad(t *testing.T, tree Tree) *Graph {
	t.Helper()
	g, err := Load(tree, WithLoadLogger(nil))
	require.NoError(t, err)
	return g
}

func newHarness(t *testing.T, tree Tree, opts ...Option) *harness {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now), WithLogger(discardLogger())}, opts...)
	m, err := NewMission(mustLoad(t, tree), opts...)
	require.NoError(t, err)
	return &harness{t: t, m: m, clock: clock, ctx: context.Background()}
}

func (h *harness) tick() Result {
	h.t.Helper()
	res, err := h.m.Tick(h.ctx)
	require.NoError(h.t, err)
	return res
}

// tickAfter advances the clock by d and ticks.
func (h *harness) tickAfter(d time.Duration) Result {
	h.t.Helper()
	h.clock.Advance(d)
	return h.tick()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
