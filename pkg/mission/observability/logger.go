package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds mission context to a logger.
// Returns a new logger with run_id and mission fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", "patrol")
//	enriched.Info("ticking") // includes run_id, mission
func EnrichLogger(logger *slog.Logger, runID, mission string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("mission", mission),
	)
}

// LogMissionStart logs the start of a mission run.
func LogMissionStart(logger *slog.Logger, runID string, tickPeriod time.Duration) {
	if logger == nil {
		return
	}
	logger.Info("mission run starting",
		slog.String("run_id", runID),
		slog.Duration("tick_period", tickPeriod),
	)
}

// LogMissionComplete logs a mission reaching a terminal result.
func LogMissionComplete(logger *slog.Logger, runID, result string, ticks int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("mission run completed",
		slog.String("run_id", runID),
		slog.String("result", result),
		slog.Int("ticks", ticks),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogMissionFailed logs a mission run that ended without a terminal result,
// for example on cancellation.
func LogMissionFailed(logger *slog.Logger, runID string, err error, ticks int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("mission run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Int("ticks", ticks),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeResult logs the result of a node tick.
func LogNodeResult(logger *slog.Logger, node, kind, result string) {
	if logger == nil {
		return
	}
	logger.Debug("node ticked",
		slog.String("node", node),
		slog.String("kind", kind),
		slog.String("result", result),
	)
}

// LogNodeFailure logs an error that turned a node tick into FAILURE.
func LogNodeFailure(logger *slog.Logger, node, kind string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("node failed",
		slog.String("node", node),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
}

// LogNodeStopped logs a running node being stopped by its parent.
func LogNodeStopped(logger *slog.Logger, node, kind string) {
	if logger == nil {
		return
	}
	logger.Debug("node stopped",
		slog.String("node", node),
		slog.String("kind", kind),
	)
}

// LogAdapterError logs a failed adapter operation.
func LogAdapterError(logger *slog.Logger, adapter, node string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("adapter operation failed",
		slog.String("adapter", adapter),
		slog.String("node", node),
		slog.String("error", err.Error()),
	)
}

// LogScope logs a blackboard scope being pushed or popped.
func LogScope(logger *slog.Logger, op, owner string, depth int) {
	if logger == nil {
		return
	}
	logger.Debug("blackboard scope",
		slog.String("op", op),
		slog.String("owner", owner),
		slog.Int("depth", depth),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
