// Package handler adapts scheduled events to transition runs.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/rdswitch/internal/emitter"
	"github.com/yairfalse/rdswitch/internal/transition"
)

// Runner executes one transition run.
type Runner interface {
	Transition(ctx context.Context, d transition.Direction) (*transition.Result, error)
}

// Response is the invocation result returned to the Lambda runtime.
type Response struct {
	StatusCode int    `json:"statusCode" yaml:"statusCode"`
	Body       string `json:"body" yaml:"body"`
}

// Handler turns an event into a transition run and a response.
type Handler struct {
	runner  Runner
	emitter emitter.Emitter
	logger  zerolog.Logger

	// lastResult is the result of the most recent completed run
	lastResult *transition.Result
}

// Option configures a Handler.
type Option func(*Handler)

// WithEmitter reports every completed run to e.
func WithEmitter(e emitter.Emitter) Option {
	return func(h *Handler) { h.emitter = e }
}

// WithLogger sets the handler logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates a handler around runner.
func New(runner Runner, opts ...Option) *Handler {
	h := &Handler{
		runner: runner,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one scheduled event. An unrecognized action yields a 400
// response without touching the inventory. A failure to list the inventory
// is returned as an error so the invocation fails.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (Response, error) {
	h.lastResult = nil

	h.logger.Info().Ctx(ctx).
		Str("event_id", event.ID).
		Str("source", event.Source).
		Str("detail_type", event.DetailType).
		RawJSON("detail", detailForLog(event.Detail)).
		Msg("received event")

	action := ActionFromDetail(event.Detail)

	h.logger.Info().Ctx(ctx).
		Str("action", displayAction(action)).
		Msg("determined action")

	direction, err := transition.ParseDirection(action)
	if err != nil {
		var unrecognized *transition.UnrecognizedActionError
		if errors.As(err, &unrecognized) {
			h.logger.Warn().Ctx(ctx).
				Str("action", unrecognized.DisplayAction()).
				Msg("unknown action")
			return newResponse(http.StatusBadRequest, fmt.Sprintf("Unknown action: %s", unrecognized.DisplayAction()))
		}
		return Response{}, err
	}

	result, err := h.runner.Transition(ctx, direction)
	if err != nil {
		h.logger.Error().Ctx(ctx).Err(err).
			Str("direction", direction.String()).
			Msg("transition run failed")
		return Response{}, fmt.Errorf("%s instances: %w", direction, err)
	}

	h.lastResult = result

	if h.emitter != nil {
		if err := h.emitter.Emit(ctx, result); err != nil {
			h.logger.Warn().Ctx(ctx).Err(err).Msg("failed to emit run result")
		}
	}

	return newResponse(http.StatusOK, fmt.Sprintf("Successfully processed %s action", direction))
}

// LastResult returns the result of the most recent successful run, or nil.
func (h *Handler) LastResult() *transition.Result {
	return h.lastResult
}

// ActionFromDetail extracts detail.action, lowercased. Missing detail, a
// missing action, or a non-string action yield "".
func ActionFromDetail(detail json.RawMessage) string {
	if len(detail) == 0 {
		return ""
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(detail, &fields); err != nil {
		return ""
	}

	raw, ok := fields["action"]
	if !ok {
		return ""
	}

	var action string
	if err := json.Unmarshal(raw, &action); err != nil {
		return ""
	}
	return strings.ToLower(action)
}

func newResponse(status int, message string) (Response, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return Response{}, fmt.Errorf("encode response body: %w", err)
	}
	return Response{StatusCode: status, Body: string(body)}, nil
}

func displayAction(action string) string {
	if action == "" {
		return "none"
	}
	return action
}

func detailForLog(detail json.RawMessage) []byte {
	if len(detail) == 0 || !json.Valid(detail) {
		return []byte("null")
	}
	return detail
}
