package prompt_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
	"github.com/randalmurphal/mission/pkg/mission/expr"
	"github.com/randalmurphal/mission/pkg/mission/prompt"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedisStore(t *testing.T) *prompt.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := prompt.NewRedisStoreFromClient(client, prompt.WithRedisLogger(discard()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type storeFactory func(t *testing.T) prompt.Store

func storeContractTest(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	question := func(id string, asked time.Duration, status prompt.Status) *prompt.Question {
		return &prompt.Question{
			ID:      id,
			Node:    "ask",
			Text:    "Continue?",
			Options: []adapter.PromptOption{{Text: "yes", AnswerCode: 1}},
			Status:  status,
			AskedAt: base.Add(asked),
		}
	}

	t.Run("Save_and_Get", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Save(ctx, question("q1", 0, prompt.StatusPending)))

		got, err := store.Get(ctx, "q1")
		require.NoError(t, err)
		assert.Equal(t, "Continue?", got.Text)
		assert.Equal(t, prompt.StatusPending, got.Status)
		assert.Equal(t, []adapter.PromptOption{{Text: "yes", AnswerCode: 1}}, got.Options)
		assert.True(t, base.Equal(got.AskedAt))
	})

	t.Run("Get_NotFound", func(t *testing.T) {
		store := factory(t)
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, prompt.ErrQuestionNotFound)
	})

	t.Run("List_FiltersAndOrders", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Save(ctx, question("late", 2*time.Second, prompt.StatusPending)))
		require.NoError(t, store.Save(ctx, question("early", time.Second, prompt.StatusPending)))
		require.NoError(t, store.Save(ctx, question("done", 0, prompt.StatusAnswered)))

		pending, err := store.List(ctx, prompt.StatusPending)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "early", pending[0].ID)
		assert.Equal(t, "late", pending[1].ID)

		all, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, "done", all[0].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Save(ctx, question("q1", 0, prompt.StatusPending)))
		require.NoError(t, store.Delete(ctx, "q1"))

		_, err := store.Get(ctx, "q1")
		assert.ErrorIs(t, err, prompt.ErrQuestionNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "q1"), prompt.ErrQuestionNotFound)
	})

	t.Run("Watch", func(t *testing.T) {
		store := factory(t)
		wctx, cancel := context.WithCancel(ctx)
		updates, err := store.Watch(wctx)
		require.NoError(t, err)

		require.NoError(t, store.Save(ctx, question("q1", 0, prompt.StatusAnswered)))

		select {
		case q := <-updates:
			assert.Equal(t, "q1", q.ID)
			assert.Equal(t, prompt.StatusAnswered, q.Status)
		case <-time.After(2 * time.Second):
			t.Fatal("no update delivered")
		}

		cancel()
		require.Eventually(t, func() bool {
			select {
			case _, ok := <-updates:
				return !ok
			default:
				return false
			}
		}, 2*time.Second, 5*time.Millisecond)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContractTest(t, func(*testing.T) prompt.Store { return prompt.NewMemoryStore() })
}

func TestRedisStore(t *testing.T) {
	storeContractTest(t, func(t *testing.T) prompt.Store { return newRedisStore(t) })
}

// recorder collects broker events.
type recorder struct {
	mu     sync.Mutex
	events []prompt.Event
}

func (r *recorder) listen(ev prompt.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) typesFor(id string) []prompt.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []prompt.EventType
	for _, ev := range r.events {
		if ev.Question.ID == id {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (r *recorder) types() []prompt.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]prompt.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

var request = adapter.PromptRequest{
	Node: "ask",
	Text: "Enter the building?",
	Options: []adapter.PromptOption{
		{Text: "yes", AnswerCode: 1},
		{Text: "no", AnswerCode: 2},
	},
}

func TestBroker_AskAndAnswer(t *testing.T) {
	ctx := context.Background()
	b := prompt.NewBroker(prompt.NewMemoryStore(), prompt.WithLogger(discard()))
	rec := &recorder{}
	unsubscribe := b.Subscribe(rec.listen)
	defer unsubscribe()

	h, err := b.Start(ctx, request)
	require.NoError(t, err)
	assert.Equal(t, adapter.Pending, b.Poll(ctx, h).State)

	pending, err := b.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, string(h), pending[0].ID)
	assert.Equal(t, "Enter the building?", pending[0].Text)

	require.NoError(t, b.Answer(ctx, string(h), 2))

	st := b.Poll(ctx, h)
	require.Equal(t, adapter.Done, st.State)
	assert.True(t, st.Value.Equal(expr.Int(2)))

	// terminal handles are forgotten
	assert.ErrorIs(t, b.Poll(ctx, h).Err, adapter.ErrUnknownHandle)

	q, err := b.Get(ctx, string(h))
	require.NoError(t, err)
	assert.Equal(t, prompt.StatusAnswered, q.Status)
	require.NotNil(t, q.AnsweredAt)

	assert.Equal(t, []prompt.EventType{prompt.EventAsked, prompt.EventAnswered}, rec.types())
}

func TestBroker_AnswerErrors(t *testing.T) {
	ctx := context.Background()
	b := prompt.NewBroker(prompt.NewMemoryStore(), prompt.WithLogger(discard()))

	assert.ErrorIs(t, b.Answer(ctx, "missing", 1), prompt.ErrQuestionNotFound)

	h, err := b.Start(ctx, request)
	require.NoError(t, err)
	assert.ErrorIs(t, b.Answer(ctx, string(h), 7), prompt.ErrInvalidAnswer)

	require.NoError(t, b.Answer(ctx, string(h), 1))
	assert.ErrorIs(t, b.Answer(ctx, string(h), 1), prompt.ErrNotPending)
}

func TestBroker_Cancel(t *testing.T) {
	ctx := context.Background()
	store := prompt.NewMemoryStore()
	b := prompt.NewBroker(store, prompt.WithLogger(discard()))
	rec := &recorder{}
	b.Subscribe(rec.listen)

	h, err := b.Start(ctx, request)
	require.NoError(t, err)
	b.Cancel(ctx, h)

	assert.ErrorIs(t, b.Poll(ctx, h).Err, adapter.ErrUnknownHandle)
	assert.ErrorIs(t, b.Answer(ctx, string(h), 1), prompt.ErrNotPending)

	q, err := store.Get(ctx, string(h))
	require.NoError(t, err)
	assert.Equal(t, prompt.StatusCancelled, q.Status)
	assert.Equal(t, []prompt.EventType{prompt.EventAsked, prompt.EventCancelled}, rec.types())

	// cancelling twice is a no-op
	b.Cancel(ctx, h)
	assert.Len(t, rec.types(), 2)
}

func TestBroker_AnswerRacesCancel(t *testing.T) {
	ctx := context.Background()
	store := prompt.NewMemoryStore()
	b := prompt.NewBroker(store, prompt.WithLogger(discard()))
	rec := &recorder{}
	b.Subscribe(rec.listen)

	const rounds = 200
	for i := 0; i < rounds; i++ {
		h, err := b.Start(ctx, request)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			answerErr error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			answerErr = b.Answer(ctx, string(h), 1)
		}()
		go func() {
			defer wg.Done()
			<-start
			b.Cancel(ctx, h)
		}()
		close(start)
		wg.Wait()

		q, err := store.Get(ctx, string(h))
		require.NoError(t, err)
		settled := prompt.EventAnswered
		if answerErr == nil {
			require.Equal(t, prompt.StatusAnswered, q.Status, "round %d", i)
		} else {
			require.ErrorIs(t, answerErr, prompt.ErrNotPending)
			require.Equal(t, prompt.StatusCancelled, q.Status, "round %d", i)
			settled = prompt.EventCancelled
		}
		require.Equal(t, []prompt.EventType{prompt.EventAsked, settled}, rec.typesFor(string(h)), "round %d", i)
	}
}

func TestBroker_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	b := prompt.NewBroker(prompt.NewMemoryStore(), prompt.WithLogger(discard()))
	rec := &recorder{}
	unsubscribe := b.Subscribe(rec.listen)
	unsubscribe()

	_, err := b.Start(ctx, request)
	require.NoError(t, err)
	assert.Empty(t, rec.types())
}

// TestBroker_RemoteAnswer tests an answer given by another process sharing
// the store.
func TestBroker_RemoteAnswer(t *testing.T) {
	stores := map[string]func(t *testing.T) (prompt.Store, prompt.Store){
		"memory": func(*testing.T) (prompt.Store, prompt.Store) {
			s := prompt.NewMemoryStore()
			return s, s
		},
		"redis": func(t *testing.T) (prompt.Store, prompt.Store) {
			mr := miniredis.RunT(t)
			open := func() prompt.Store {
				s := prompt.NewRedisStoreFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}), prompt.WithRedisLogger(discard()))
				t.Cleanup(func() { _ = s.Close() })
				return s
			}
			return open(), open()
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			local, remote := open(t)
			asker := prompt.NewBroker(local, prompt.WithLogger(discard()))
			operator := prompt.NewBroker(remote, prompt.WithLogger(discard()))

			done := make(chan error, 1)
			go func() { done <- asker.Run(ctx) }()

			h, err := asker.Start(ctx, request)
			require.NoError(t, err)

			pending, err := operator.Pending(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			require.NoError(t, operator.Answer(ctx, string(h), 1))

			require.Eventually(t, func() bool {
				return asker.Poll(ctx, h).State == adapter.Done
			}, 2*time.Second, 5*time.Millisecond)

			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return")
			}
		})
	}
}
