// Package transition implements the fleet scan that starts or stops database
// instances carrying a consent tag.
package transition

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/rdswitch/internal/filter"
	"github.com/yairfalse/rdswitch/internal/inventory"
	"github.com/yairfalse/rdswitch/pkg/instance"
)

const tracerName = "github.com/yairfalse/rdswitch/internal/transition"

// Transitioner decides which instances move in a direction and moves them.
// A Transitioner holds no state between calls; callers that cannot tolerate
// duplicate start/stop requests must serialize Transition calls.
type Transitioner struct {
	inventory   inventory.Inventory
	mode        Mode
	callTimeout time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// Option configures a Transitioner.
type Option func(*Transitioner)

// WithMode sets the execution mode. Defaults to DryRun.
func WithMode(m Mode) Option {
	return func(t *Transitioner) { t.mode = m }
}

// WithCallTimeout bounds every individual inventory call. Zero disables it.
func WithCallTimeout(d time.Duration) Option {
	return func(t *Transitioner) { t.callTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transitioner) { t.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(tr trace.Tracer) Option {
	return func(t *Transitioner) { t.tracer = tr }
}

// New creates a Transitioner acting through inv.
func New(inv inventory.Inventory, opts ...Option) *Transitioner {
	t := &Transitioner{
		inventory: inv,
		mode:      DefaultMode,
		logger:    log.Logger,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Mode returns the configured execution mode.
func (t *Transitioner) Mode() Mode {
	return t.mode
}

// Transition scans the inventory once and moves every eligible, consenting
// instance in direction d. Besides an invalid direction, only an inventory
// listing failure is returned as an error (a *FatalError). Per-instance
// failures are collected in the Result.
func (t *Transitioner) Transition(ctx context.Context, d Direction) (*Result, error) {
	if d != Start && d != Stop {
		return nil, &UnrecognizedActionError{Action: string(d)}
	}

	ctx, span := t.tracer.Start(ctx, "transition.run", trace.WithAttributes(
		attribute.String("direction", d.String()),
		attribute.String("mode", t.mode.String()),
	))
	defer span.End()

	logger := t.logger.With().Str("direction", d.String()).Str("mode", t.mode.String()).Logger()
	logger.Info().Ctx(ctx).Msg("starting fleet scan")

	start := t.now()
	instances, err := t.listInstances(ctx)
	if err != nil {
		fatal := &FatalError{Op: "list instances", Err: err}
		span.RecordError(fatal)
		span.SetStatus(codes.Error, fatal.Error())
		logger.Error().Ctx(ctx).Err(err).Msg("cannot list instances")
		return nil, fatal
	}

	result := &Result{
		Direction: d,
		Mode:      t.mode,
		StartedAt: start,
		Outcomes:  make([]Outcome, 0),
	}
	guard := d.Filter()

	for _, inst := range instances {
		t.process(ctx, logger, d, guard, inst, result)
	}

	result.Duration = t.now().Sub(start)
	span.SetAttributes(
		attribute.Int("instances.scanned", result.Scanned),
		attribute.Int("instances.selected", len(result.Outcomes)),
		attribute.Int("instances.errors", len(result.Errors)),
	)

	logger.Info().Ctx(ctx).
		Int("scanned", result.Scanned).
		Int("selected", len(result.Outcomes)).
		Int("skipped_status", result.SkippedStatus).
		Int("skipped_no_consent", result.SkippedNoConsent).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("fleet scan complete")

	return result, nil
}

// process applies the status guard, then the consent guard, then the command.
// An instance failing the status guard never costs a tag lookup.
func (t *Transitioner) process(ctx context.Context, logger zerolog.Logger, d Direction, guard *filter.Filter, inst instance.Instance, result *Result) {
	result.Scanned++
	ilog := logger.With().Str("instance_id", inst.ID).Logger()

	if !guard.IsEligible(inst) {
		result.SkippedStatus++
		ilog.Debug().Ctx(ctx).Str("status", inst.Status).Msg("status does not match, skipping")
		return
	}

	tags, err := t.listTags(ctx, inst.ARN)
	if err != nil {
		t.recordError(ctx, ilog, result, inst.ID, StageListTags, err)
		return
	}

	tag, ok := guard.FindConsent(tags)
	if !ok {
		result.SkippedNoConsent++
		ilog.Debug().Ctx(ctx).Str("consent_key", guard.ConsentKey()).Msg("no consent tag, skipping")
		return
	}

	outcome := Outcome{
		InstanceID:  inst.ID,
		ARN:         inst.ARN,
		PriorStatus: inst.Status,
		ConsentTag:  tag,
		Status:      StatusNotAttempted,
	}

	if t.mode != Execute {
		ilog.Info().Ctx(ctx).Msgf("dry run, not %s instance", d.verb())
		result.Outcomes = append(result.Outcomes, outcome)
		return
	}

	ilog.Info().Ctx(ctx).Msgf("%s instance", d.verb())
	if err := t.request(ctx, d, inst.ID); err != nil {
		outcome.Status = StatusFailed
		outcome.Error = err.Error()
		result.Outcomes = append(result.Outcomes, outcome)
		t.recordError(ctx, ilog, result, inst.ID, StageTransition, err)
		return
	}

	outcome.Status = StatusSucceeded
	result.Outcomes = append(result.Outcomes, outcome)
	trace.SpanFromContext(ctx).AddEvent("instance.transitioned", trace.WithAttributes(
		attribute.String("instance.id", inst.ID),
	))
}

func (t *Transitioner) recordError(ctx context.Context, ilog zerolog.Logger, result *Result, id string, stage Stage, err error) {
	ierr := &InstanceError{InstanceID: id, Stage: stage, Err: err}
	result.Errors = append(result.Errors, ierr)
	trace.SpanFromContext(ctx).AddEvent("instance.error", trace.WithAttributes(
		attribute.String("instance.id", id),
		attribute.String("stage", string(stage)),
		attribute.String("error", err.Error()),
	))
	ilog.Warn().Ctx(ctx).Err(err).Str("stage", string(stage)).Msg("instance failed, continuing")
}

func (t *Transitioner) listInstances(ctx context.Context) ([]instance.Instance, error) {
	ctx, cancel := t.callContext(ctx)
	defer cancel()
	return t.inventory.ListInstances(ctx)
}

func (t *Transitioner) listTags(ctx context.Context, arn string) ([]instance.Tag, error) {
	ctx, cancel := t.callContext(ctx)
	defer cancel()
	return t.inventory.ListTags(ctx, arn)
}

func (t *Transitioner) request(ctx context.Context, d Direction, id string) error {
	ctx, cancel := t.callContext(ctx)
	defer cancel()
	if d == Start {
		return t.inventory.RequestStart(ctx, id)
	}
	return t.inventory.RequestStop(ctx, id)
}

func (t *Transitioner) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.callTimeout)
}
