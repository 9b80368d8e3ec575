// Package httpapi exposes running missions, their questions and the run
// history over HTTP.
//
//	GET  /healthz
//	GET  /missions                      tracked missions
//	GET  /missions/{name}               status of one mission
//	GET  /missions/{name}/blackboard    final root blackboard (409 while running)
//	GET  /prompts                       pending questions
//	GET  /prompts/events                question events (server-sent events)
//	GET  /prompts/{id}
//	POST /prompts/{id}/answer           {"answer_code": 1}
//	GET  /runs?mission=&limit=          run history, newest first
//	GET  /runs/{id}
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/randalmurphal/mission/pkg/mission"
	"github.com/randalmurphal/mission/pkg/mission/history"
	"github.com/randalmurphal/mission/pkg/mission/prompt"
	"github.com/randalmurphal/mission/pkg/mission/registry"
)

// Server serves the API. Any of the broker and the history store may be nil;
// their routes then answer 503.
type Server struct {
	broker   *prompt.Broker
	history  history.Store
	missions *registry.Registry[string, *mission.Mission]
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithBroker serves questions from b.
func WithBroker(b *prompt.Broker) Option {
	return func(s *Server) { s.broker = b }
}

// WithHistory serves run records from store.
func WithHistory(store history.Store) Option {
	return func(s *Server) { s.history = store }
}

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Server with no tracked missions.
func New(opts ...Option) *Server {
	s := &Server{
		missions: registry.New[string, *mission.Mission](),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track makes m visible under name. It returns a function that stops tracking.
func (s *Server) Track(name string, m *mission.Mission) func() {
	s.missions.Register(name, m)
	return func() { s.missions.Delete(name) }
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/missions", func(r chi.Router) {
		r.Get("/", s.listMissions)
		r.Get("/{name}", s.getMission)
		r.Get("/{name}/blackboard", s.getBlackboard)
	})

	r.Route("/prompts", func(r chi.Router) {
		r.Get("/", s.listPrompts)
		r.Get("/events", s.promptEvents)
		r.Get("/{id}", s.getPrompt)
		r.Post("/{id}/answer", s.answerPrompt)
	})

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// MissionStatus is the JSON view of mission.Status.
type MissionStatus struct {
	Name    string    `json:"name"`
	Mission string    `json:"mission"`
	RunID   string    `json:"run_id,omitempty"`
	Active  bool      `json:"active"`
	Ticks   int       `json:"ticks"`
	Last    string    `json:"last"`
	Started time.Time `json:"started,omitzero"`
	Error   string    `json:"error,omitempty"`
}

func statusOf(name string, m *mission.Mission) MissionStatus {
	st := m.Status()
	out := MissionStatus{
		Name:    name,
		Mission: st.Mission,
		RunID:   st.RunID,
		Active:  st.Active,
		Ticks:   st.Ticks,
		Last:    st.Last.String(),
		Started: st.Started,
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
	}
	return out
}

func (s *Server) listMissions(w http.ResponseWriter, _ *http.Request) {
	out := make([]MissionStatus, 0, s.missions.Len())
	s.missions.Range(func(name string, m *mission.Mission) bool {
		out = append(out, statusOf(name, m))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) mission(w http.ResponseWriter, r *http.Request) (string, *mission.Mission, bool) {
	name := chi.URLParam(r, "name")
	m, ok := s.missions.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("mission %q not found", name))
		return name, nil, false
	}
	return name, m, true
}

func (s *Server) getMission(w http.ResponseWriter, r *http.Request) {
	name, m, ok := s.mission(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusOf(name, m))
}

func (s *Server) getBlackboard(w http.ResponseWriter, r *http.Request) {
	_, m, ok := s.mission(w, r)
	if !ok {
		return
	}
	vars, err := m.Snapshot()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make(map[string]any, len(vars))
	for k, c := range vars {
		out[k] = c.Any()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) needBroker(w http.ResponseWriter) bool {
	if s.broker == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("prompts are not enabled"))
		return false
	}
	return true
}

func (s *Server) listPrompts(w http.ResponseWriter, r *http.Request) {
	if !s.needBroker(w) {
		return
	}
	qs, err := s.broker.Pending(r.Context())
	if err != nil {
		s.logger.Error("list prompts failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if qs == nil {
		qs = []*prompt.Question{}
	}
	writeJSON(w, http.StatusOK, qs)
}

func (s *Server) getPrompt(w http.ResponseWriter, r *http.Request) {
	if !s.needBroker(w) {
		return
	}
	q, err := s.broker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// AnswerRequest is the body of POST /prompts/{id}/answer.
type AnswerRequest struct {
	AnswerCode *int64 `json:"answer_code"`
}

func (s *Server) answerPrompt(w http.ResponseWriter, r *http.Request) {
	if !s.needBroker(w) {
		return
	}
	var body AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.AnswerCode == nil {
		writeError(w, http.StatusBadRequest, errors.New("answer_code is required"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.broker.Answer(r.Context(), id, *body.AnswerCode); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	q, err := s.broker.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// promptEvents streams question events until the client goes away.
func (s *Server) promptEvents(w http.ResponseWriter, r *http.Request) {
	if !s.needBroker(w) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	events := make(chan prompt.Event, 16)
	unsubscribe := s.broker.Subscribe(func(ev prompt.Event) {
		select {
		case events <- ev:
		default:
			s.logger.Warn("event stream full, dropping event", slog.String("question_id", ev.Question.ID))
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprint(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode event failed", slog.String("error", err.Error()))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) needHistory(w http.ResponseWriter) bool {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("history is not enabled"))
		return false
	}
	return true
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !s.needHistory(w) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	recs, err := s.history.List(r.Context(), r.URL.Query().Get("mission"), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if !s.needHistory(w) {
		return
	}
	rec, err := s.history.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, prompt.ErrQuestionNotFound), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, prompt.ErrNotPending), errors.Is(err, mission.ErrMissionActive):
		return http.StatusConflict
	case errors.Is(err, prompt.ErrInvalidAnswer):
		return http.StatusBadRequest
	case errors.Is(err, history.ErrStoreClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", slog.String("error", err.Error()))
	}
}
