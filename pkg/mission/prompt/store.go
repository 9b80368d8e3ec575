package prompt

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// Store persists questions.
type Store interface {
	// Save creates or replaces a question.
	Save(ctx context.Context, q *Question) error

	// Get retrieves a question by id.
	Get(ctx context.Context, id string) (*Question, error)

	// List returns questions with the given status, oldest first. An empty
	// status matches every question.
	List(ctx context.Context, status Status) ([]*Question, error)

	// Delete removes a question.
	Delete(ctx context.Context, id string) error

	// Watch delivers every question saved after the call, by any writer
	// sharing the store, until ctx ends.
	Watch(ctx context.Context) (<-chan *Question, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	questions map[string]*Question
	watchers  map[chan *Question]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		questions: make(map[string]*Question),
		watchers:  make(map[chan *Question]struct{}),
	}
}

// Save stores a copy of q and notifies watchers. A watcher that is not
// keeping up misses the update.
func (s *MemoryStore) Save(_ context.Context, q *Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.questions[q.ID] = q.Clone()
	for ch := range s.watchers {
		select {
		case ch <- q.Clone():
		default:
		}
	}
	return nil
}

// Get retrieves a copy of a question.
func (s *MemoryStore) Get(_ context.Context, id string) (*Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.questions[id]
	if !ok {
		return nil, ErrQuestionNotFound
	}
	return q.Clone(), nil
}

// List returns matching questions, oldest first.
func (s *MemoryStore) List(_ context.Context, status Status) ([]*Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Question, 0, len(s.questions))
	for _, q := range s.questions {
		if status == "" || q.Status == status {
			out = append(out, q.Clone())
		}
	}
	sortQuestions(out)
	return out, nil
}

// Delete removes a question.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.questions[id]; !ok {
		return ErrQuestionNotFound
	}
	delete(s.questions, id)
	return nil
}

// Watch registers a watcher that lives until ctx ends.
func (s *MemoryStore) Watch(ctx context.Context) (<-chan *Question, error) {
	ch := make(chan *Question, 64)

	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func sortQuestions(qs []*Question) {
	slices.SortFunc(qs, func(a, b *Question) int {
		if c := a.AskedAt.Compare(b.AskedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
