package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yairfalse/rdswitch/internal/telemetry"
	"github.com/yairfalse/rdswitch/internal/transition"
	"github.com/yairfalse/rdswitch/pkg/instance"
)

// stubInventory is an in-memory Inventory that records every call.
type stubInventory struct {
	mu sync.Mutex

	instances []instance.Instance
	tags      map[string][]instance.Tag
	tagErrs   map[string]error
	listErr   error

	listCalls int
	stopped   []string
	started   []string
}

func newStubInventory() *stubInventory {
	return &stubInventory{
		tags:    make(map[string][]instance.Tag),
		tagErrs: make(map[string]error),
	}
}

func (s *stubInventory) add(id, status string, tags ...instance.Tag) *stubInventory {
	arn := "arn:aws:rds:eu-west-1:123456789012:db:" + id
	s.instances = append(s.instances, instance.Instance{ID: id, ARN: arn, Status: status})
	s.tags[arn] = tags
	return s
}

func (s *stubInventory) ListInstances(_ context.Context) ([]instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.instances, nil
}

func (s *stubInventory) ListTags(_ context.Context, arn string) ([]instance.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tagErrs[arn]; err != nil {
		return nil, err
	}
	return s.tags[arn], nil
}

func (s *stubInventory) RequestStart(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, id)
	return nil
}

func (s *stubInventory) RequestStop(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, id)
	return nil
}

// recordingEmitter captures emitted results.
type recordingEmitter struct {
	results []*transition.Result
	err     error
}

func (r *recordingEmitter) Emit(_ context.Context, result *transition.Result) error {
	r.results = append(r.results, result)
	return r.err
}

func (r *recordingEmitter) Close() error { return nil }

func event(t *testing.T, detail any) events.CloudWatchEvent {
	t.Helper()
	raw, err := json.Marshal(detail)
	require.NoError(t, err)
	return events.CloudWatchEvent{
		ID:         "evt-1",
		Source:     "aws.events",
		DetailType: "Scheduled Event",
		Detail:     raw,
	}
}

func newHandler(inv *stubInventory, opts ...Option) *Handler {
	runner := transition.New(inv,
		transition.WithMode(transition.Execute),
		transition.WithLogger(zerolog.Nop()),
	)
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(runner, opts...)
}

func tag(k, v string) instance.Tag {
	return instance.Tag{Key: k, Value: v}
}

func TestHandle_StopSelectsConsentingInstance(t *testing.T) {
	inv := newStubInventory().
		add("db-1", instance.StatusAvailable, tag("autostop", "yes")).
		add("db-2", instance.StatusAvailable)
	h := newHandler(inv)

	resp, err := h.Handle(context.Background(), event(t, map[string]string{"action": "stop"}))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, `"Successfully processed stop action"`, resp.Body)
	assert.Equal(t, []string{"db-1"}, inv.stopped)
	require.NotNil(t, h.LastResult())
	assert.Equal(t, 1, h.LastResult().SkippedNoConsent)
}

func TestHandle_MixedCaseAction(t *testing.T) {
	inv := newStubInventory().add("db-3", instance.StatusStopped, tag("autostart", "YES"))
	h := newHandler(inv)

	resp, err := h.Handle(context.Background(), event(t, map[string]string{"action": "START"}))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, `"Successfully processed start action"`, resp.Body)
	assert.Equal(t, []string{"db-3"}, inv.started)
}

func TestHandle_UnknownAction(t *testing.T) {
	tests := []struct {
		name   string
		event  events.CloudWatchEvent
		expect string
	}{
		{
			name:   "unknown verb",
			event:  event(t, map[string]string{"action": "pause"}),
			expect: `"Unknown action: pause"`,
		},
		{
			name:   "lowercased",
			event:  event(t, map[string]string{"action": "Pause"}),
			expect: `"Unknown action: pause"`,
		},
		{
			name:   "missing action",
			event:  event(t, map[string]string{"other": "stop"}),
			expect: `"Unknown action: none"`,
		},
		{
			name:   "missing detail",
			event:  events.CloudWatchEvent{ID: "evt-2"},
			expect: `"Unknown action: none"`,
		},
		{
			name:   "non-string action",
			event:  event(t, map[string]any{"action": 42}),
			expect: `"Unknown action: none"`,
		},
		{
			name:   "surrounding whitespace is not trimmed",
			event:  event(t, map[string]string{"action": " stop"}),
			expect: `"Unknown action:  stop"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newStubInventory().add("db-1", instance.StatusAvailable, tag("autostop", "yes"))
			rec := &recordingEmitter{}
			h := newHandler(inv, WithEmitter(rec))

			resp, err := h.Handle(context.Background(), tt.event)
			require.NoError(t, err)

			assert.Equal(t, 400, resp.StatusCode)
			assert.Equal(t, tt.expect, resp.Body)
			assert.Zero(t, inv.listCalls)
			assert.Empty(t, rec.results)
			assert.Nil(t, h.LastResult())
		})
	}
}

func TestHandle_TagFailureStillSucceeds(t *testing.T) {
	inv := newStubInventory().
		add("db-4", instance.StatusAvailable, tag("autostop", "yes")).
		add("db-5", instance.StatusAvailable, tag("autostop", "yes"))
	inv.tagErrs[inv.instances[0].ARN] = errors.New("AccessDenied")
	h := newHandler(inv)

	resp, err := h.Handle(context.Background(), event(t, map[string]string{"action": "stop"}))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []string{"db-5"}, inv.stopped)
	require.Len(t, h.LastResult().Errors, 1)
	assert.Equal(t, "db-4", h.LastResult().Errors[0].InstanceID)
}

func TestHandle_IsolatedFailureKeepsRunSpanHealthy(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var buf bytes.Buffer
	logger, err := telemetry.NewLogger(&buf, "rdswitch", "info", "json")
	require.NoError(t, err)

	inv := newStubInventory().
		add("db-4", instance.StatusAvailable, tag("autostop", "yes")).
		add("db-5", instance.StatusAvailable, tag("autostop", "yes"))
	inv.tagErrs[inv.instances[0].ARN] = errors.New("AccessDenied")

	runner := transition.New(inv,
		transition.WithMode(transition.Execute),
		transition.WithLogger(logger),
		transition.WithTracer(tp.Tracer("test")),
	)
	h := New(runner, WithLogger(logger))

	resp, err := h.Handle(context.Background(), event(t, map[string]string{"action": "stop"}))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []string{"db-5"}, inv.stopped)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "transition.run", spans[0].Name())
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)

	var sawErrorEvent bool
	for _, ev := range spans[0].Events() {
		if ev.Name == "instance.error" {
			sawErrorEvent = true
		}
	}
	assert.True(t, sawErrorEvent)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestHandle_ListFailureMarksRunSpanFailed(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	inv := newStubInventory()
	inv.listErr = errors.New("throttled")
	runner := transition.New(inv,
		transition.WithLogger(zerolog.Nop()),
		transition.WithTracer(tp.Tracer("test")),
	)
	h := New(runner, WithLogger(zerolog.Nop()))

	_, err := h.Handle(context.Background(), event(t, map[string]string{"action": "stop"}))
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestHandle_ListFailureIsReturned(t *testing.T) {
	inv := newStubInventory()
	inv.listErr = errors.New("throttled")
	rec := &recordingEmitter{}
	h := newHandler(inv, WithEmitter(rec))

	_, err := h.Handle(context.Background(), event(t, map[string]string{"action": "stop"}))
	require.Error(t, err)

	var fatal *transition.FatalError
	assert.True(t, errors.As(err, &fatal))
	assert.Empty(t, rec.results)
}

func TestHandle_EmitsResult(t *testing.T) {
	inv := newStubInventory().add("db-1", instance.StatusAvailable, tag("autostop", "yes"))
	rec := &recordingEmitter{}
	h := newHandler(inv, WithEmitter(rec))

	_, err := h.Handle(context.Background(), event(t, map[string]string{"action": "stop"}))
	require.NoError(t, err)

	require.Len(t, rec.results, 1)
	assert.Equal(t, []string{"db-1"}, rec.results[0].Selected())
}

func TestHandle_EmitFailureDoesNotFailInvocation(t *testing.T) {
	inv := newStubInventory().add("db-1", instance.StatusAvailable, tag("autostop", "yes"))
	rec := &recordingEmitter{err: errors.New("disk full")}
	h := newHandler(inv, WithEmitter(rec))

	resp, err := h.Handle(context.Background(), event(t, map[string]string{"action": "stop"}))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestHandle_LogsEventAndAction(t *testing.T) {
	var buf bytes.Buffer
	inv := newStubInventory()
	h := newHandler(inv, WithLogger(zerolog.New(&buf)))

	_, err := h.Handle(context.Background(), event(t, map[string]string{"action": "Stop"}))
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.GreaterOrEqual(t, len(lines), 2)

	var received, determined map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &received))
	require.NoError(t, json.Unmarshal(lines[1], &determined))

	assert.Equal(t, "received event", received["message"])
	assert.Equal(t, map[string]any{"action": "Stop"}, received["detail"])
	assert.Equal(t, "determined action", determined["message"])
	assert.Equal(t, "stop", determined["action"])
}

func TestActionFromDetail(t *testing.T) {
	assert.Equal(t, "stop", ActionFromDetail(json.RawMessage(`{"action":"STOP"}`)))
	assert.Equal(t, "", ActionFromDetail(nil))
	assert.Equal(t, "", ActionFromDetail(json.RawMessage(`[]`)))
	assert.Equal(t, "", ActionFromDetail(json.RawMessage(`{"action":null}`)))
}
