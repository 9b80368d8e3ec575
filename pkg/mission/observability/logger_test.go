package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	buf bytes.Buffer
}

func newCapture() (*capture, *slog.Logger) {
	c := &capture{}
	return c, slog.New(slog.NewJSONHandler(&c.buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (c *capture) records(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(c.buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func (c *capture) last(t *testing.T) map[string]any {
	t.Helper()
	recs := c.records(t)
	require.NotEmpty(t, recs)
	return recs[len(recs)-1]
}

func TestEnrichLogger(t *testing.T) {
	c, logger := newCapture()
	EnrichLogger(logger, "run-1", "patrol").Info("hello")

	rec := c.last(t)
	assert.Equal(t, "run-1", rec["run_id"])
	assert.Equal(t, "patrol", rec["mission"])
	assert.Nil(t, EnrichLogger(nil, "run-1", "patrol"))
}

func TestLogHelpers(t *testing.T) {
	c, logger := newCapture()

	LogMissionStart(logger, "run-1", 100*time.Millisecond)
	rec := c.last(t)
	assert.Equal(t, "mission run starting", rec["msg"])
	assert.Equal(t, "INFO", rec["level"])

	LogMissionComplete(logger, "run-1", "SUCCESS", 12, 1200)
	rec = c.last(t)
	assert.Equal(t, "SUCCESS", rec["result"])
	assert.Equal(t, float64(12), rec["ticks"])

	LogMissionFailed(logger, "run-1", errors.New("cancelled"), 3, 50)
	rec = c.last(t)
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "cancelled", rec["error"])

	LogNodeFailure(logger, "dock", "Condition", errors.New("boom"))
	rec = c.last(t)
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "dock", rec["node"])

	LogNodeResult(logger, "dock", "Condition", "SUCCESS")
	LogNodeStopped(logger, "wait", "Sleep")
	LogAdapterError(logger, "navigate_to", "go", errors.New("lost"))
	LogScope(logger, "push", "define", 2)
	rec = c.last(t)
	assert.Equal(t, "push", rec["op"])
	assert.Equal(t, float64(2), rec["depth"])

	assert.Len(t, c.records(t), 8)
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogMissionStart(nil, "r", time.Second)
		LogMissionComplete(nil, "r", "SUCCESS", 1, 1)
		LogMissionFailed(nil, "r", errors.New("x"), 1, 1)
		LogNodeResult(nil, "n", "k", "RUNNING")
		LogNodeFailure(nil, "n", "k", errors.New("x"))
		LogNodeStopped(nil, "n", "k")
		LogAdapterError(nil, "a", "n", errors.New("x"))
		LogScope(nil, "pop", "o", 1)
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	assert.GreaterOrEqual(t, done(), float64(0))
}
