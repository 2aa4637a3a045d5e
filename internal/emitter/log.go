package emitter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yairfalse/rdswitch/internal/transition"
)

// LogEmitter writes a run summary, one line per selected instance and one
// line per instance error.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter creates a log emitter.
func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

// Emit logs the result.
func (e *LogEmitter) Emit(ctx context.Context, result *transition.Result) error {
	for _, o := range result.Outcomes {
		e.logger.Info().Ctx(ctx).
			Str("direction", result.Direction.String()).
			Str("instance_id", o.InstanceID).
			Str("outcome", string(o.Status)).
			Msg("instance selected")
	}

	for _, ierr := range result.Errors {
		e.logger.Warn().Ctx(ctx).
			Str("direction", result.Direction.String()).
			Str("instance_id", ierr.InstanceID).
			Str("stage", string(ierr.Stage)).
			Err(ierr.Err).
			Msg("instance error")
	}

	e.logger.Info().Ctx(ctx).
		Str("direction", result.Direction.String()).
		Str("mode", result.Mode.String()).
		Int("scanned", result.Scanned).
		Int("selected", len(result.Outcomes)).
		Int("succeeded", result.Count(transition.StatusSucceeded)).
		Int("failed", result.Count(transition.StatusFailed)).
		Int("not_attempted", result.Count(transition.StatusNotAttempted)).
		Int("skipped_status", result.SkippedStatus).
		Int("skipped_no_consent", result.SkippedNoConsent).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("run summary")

	return nil
}

// Close is a no-op for the log emitter.
func (e *LogEmitter) Close() error {
	return nil
}
