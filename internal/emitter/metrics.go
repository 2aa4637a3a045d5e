package emitter

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/rdswitch/internal/transition"
)

// MetricsEmitter records run results as OTEL metrics. With the Prometheus
// exporter installed they come out as rdswitch_* series.
type MetricsEmitter struct {
	meter metric.Meter

	runsTotal      metric.Int64Counter
	runDuration    metric.Float64Histogram
	scannedTotal   metric.Int64Counter
	selectedTotal  metric.Int64Counter
	skippedTotal   metric.Int64Counter
	errorsTotal    metric.Int64Counter
	lastOutcomeVal metric.Int64ObservableGauge

	// State for the observable gauge
	mu   sync.RWMutex
	last *transition.Result
}

// NewMetricsEmitter creates a metrics emitter on the given meter.
func NewMetricsEmitter(meter metric.Meter) (*MetricsEmitter, error) {
	e := &MetricsEmitter{meter: meter}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *MetricsEmitter) initMetrics() error {
	var err error

	e.runsTotal, err = e.meter.Int64Counter(
		"rdswitch_runs_total",
		metric.WithDescription("Completed transition runs"),
	)
	if err != nil {
		return fmt.Errorf("create runs counter: %w", err)
	}

	e.runDuration, err = e.meter.Float64Histogram(
		"rdswitch_run_duration_seconds",
		metric.WithDescription("Time taken by a transition run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create run_duration histogram: %w", err)
	}

	e.scannedTotal, err = e.meter.Int64Counter(
		"rdswitch_instances_scanned_total",
		metric.WithDescription("Instances inspected by transition runs"),
	)
	if err != nil {
		return fmt.Errorf("create scanned counter: %w", err)
	}

	e.selectedTotal, err = e.meter.Int64Counter(
		"rdswitch_instances_selected_total",
		metric.WithDescription("Instances selected for transition, by outcome"),
	)
	if err != nil {
		return fmt.Errorf("create selected counter: %w", err)
	}

	e.skippedTotal, err = e.meter.Int64Counter(
		"rdswitch_instances_skipped_total",
		metric.WithDescription("Instances skipped, by reason"),
	)
	if err != nil {
		return fmt.Errorf("create skipped counter: %w", err)
	}

	e.errorsTotal, err = e.meter.Int64Counter(
		"rdswitch_instance_errors_total",
		metric.WithDescription("Per-instance failures, by stage"),
	)
	if err != nil {
		return fmt.Errorf("create errors counter: %w", err)
	}

	e.lastOutcomeVal, err = e.meter.Int64ObservableGauge(
		"rdswitch_last_run_instance_info",
		metric.WithDescription("Instances selected by the most recent run"),
		metric.WithInt64Callback(e.observeLastRun),
	)
	if err != nil {
		return fmt.Errorf("create last_run gauge: %w", err)
	}

	return nil
}

// Emit records the result.
func (e *MetricsEmitter) Emit(ctx context.Context, result *transition.Result) error {
	base := []attribute.KeyValue{
		attribute.String("direction", result.Direction.String()),
		attribute.String("mode", result.Mode.String()),
	}
	with := func(extra ...attribute.KeyValue) metric.MeasurementOption {
		attrs := make([]attribute.KeyValue, 0, len(base)+len(extra))
		attrs = append(attrs, base...)
		return metric.WithAttributes(append(attrs, extra...)...)
	}

	e.runsTotal.Add(ctx, 1, with())
	e.runDuration.Record(ctx, result.Duration.Seconds(), with())
	e.scannedTotal.Add(ctx, int64(result.Scanned), with())

	for _, status := range []transition.OutcomeStatus{
		transition.StatusSucceeded,
		transition.StatusFailed,
		transition.StatusNotAttempted,
	} {
		if n := result.Count(status); n > 0 {
			e.selectedTotal.Add(ctx, int64(n), with(attribute.String("outcome", string(status))))
		}
	}

	e.skippedTotal.Add(ctx, int64(result.SkippedStatus), with(attribute.String("reason", "status")))
	e.skippedTotal.Add(ctx, int64(result.SkippedNoConsent), with(attribute.String("reason", "no_consent")))

	for _, ierr := range result.Errors {
		e.errorsTotal.Add(ctx, 1, with(attribute.String("stage", string(ierr.Stage))))
	}

	e.mu.Lock()
	e.last = result
	e.mu.Unlock()

	return nil
}

// observeLastRun is the callback for the last_run gauge.
func (e *MetricsEmitter) observeLastRun(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.last == nil {
		return nil
	}

	for _, out := range e.last.Outcomes {
		o.Observe(1, metric.WithAttributes(
			attribute.String("instance_id", out.InstanceID),
			attribute.String("direction", e.last.Direction.String()),
			attribute.String("outcome", string(out.Status)),
		))
	}

	return nil
}

// Close is a no-op for the metrics emitter.
func (e *MetricsEmitter) Close() error {
	return nil
}
