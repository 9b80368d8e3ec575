// Package prompt delivers mission questions to people and collects their
// answers.
//
// A Prompt node asks through a Broker, which implements the prompt adapter.
// The Broker records each Question in a Store, tells every listener about
// it, and hands the chosen answer code back to the node on a later tick:
//
//	broker := prompt.NewBroker(prompt.NewMemoryStore())
//	unsubscribe := broker.Subscribe(func(ev prompt.Event) {
//	    fmt.Println(ev.Type, ev.Question.Text)
//	})
//	defer unsubscribe()
//
//	m, err := mission.NewMission(g, mission.WithAdapters(adapter.Set{Prompt: broker}))
//
// Answers are given with Broker.Answer. When several processes share a
// RedisStore, answers given elsewhere reach the asking process through
// Broker.Run.
package prompt

import (
	"errors"
	"slices"
	"time"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
)

// Status is the lifecycle state of a question.
type Status string

// Question status constants.
const (
	StatusPending   Status = "pending"
	StatusAnswered  Status = "answered"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrQuestionNotFound indicates no question has the given id.
	ErrQuestionNotFound = errors.New("question not found")

	// ErrNotPending indicates the question was already answered or cancelled.
	ErrNotPending = errors.New("question is not pending")

	// ErrInvalidAnswer indicates the answer code is not one of the offered options.
	ErrInvalidAnswer = errors.New("answer is not an offered option")

	// ErrCancelled is reported to the asking node when its question was withdrawn.
	ErrCancelled = errors.New("question cancelled")
)

// Question is one prompt shown to an operator.
type Question struct {
	ID      string                 `json:"id"`
	Node    string                 `json:"node"`
	Text    string                 `json:"text"`
	Source  string                 `json:"source,omitempty"`
	Options []adapter.PromptOption `json:"options"`

	// ForAutonomousProcessing marks questions an automated responder may answer.
	ForAutonomousProcessing bool `json:"for_autonomous_processing,omitempty"`

	Status     Status     `json:"status"`
	AnswerCode int64      `json:"answer_code,omitempty"`
	AskedAt    time.Time  `json:"asked_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}

// Clone returns a deep copy of q.
func (q *Question) Clone() *Question {
	cp := *q
	cp.Options = slices.Clone(q.Options)
	if q.AnsweredAt != nil {
		t := *q.AnsweredAt
		cp.AnsweredAt = &t
	}
	return &cp
}

// Accepts reports whether code is an allowed answer. A question without
// options accepts any code.
func (q *Question) Accepts(code int64) bool {
	if len(q.Options) == 0 {
		return true
	}
	return slices.ContainsFunc(q.Options, func(o adapter.PromptOption) bool {
		return o.AnswerCode == code
	})
}

// EventType says what happened to a question.
type EventType string

// Event types delivered to listeners.
const (
	EventAsked     EventType = "asked"
	EventAnswered  EventType = "answered"
	EventCancelled EventType = "cancelled"
)

// Event is delivered to listeners whenever a question changes.
type Event struct {
	Type     EventType `json:"type"`
	Question *Question `json:"question"`
}

func eventFor(q *Question) Event {
	switch q.Status {
	case StatusAnswered:
		return Event{Type: EventAnswered, Question: q}
	case StatusCancelled:
		return Event{Type: EventCancelled, Question: q}
	}
	return Event{Type: EventAsked, Question: q}
}

// Listener receives question events. It is called synchronously and must
// not block.
type Listener func(Event)
