// Package emitter reports transition results to logs, metrics and history.
package emitter

import (
	"context"
	"errors"

	"github.com/yairfalse/rdswitch/internal/transition"
)

// Emitter outputs a transition result to a backend.
type Emitter interface {
	// Emit reports one completed run.
	Emit(ctx context.Context, result *transition.Result) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Add appends an emitter.
func (m *MultiEmitter) Add(e Emitter) {
	m.emitters = append(m.emitters, e)
}

// Emit sends to all emitters. One failing backend does not starve the others;
// the first error is returned.
func (m *MultiEmitter) Emit(ctx context.Context, result *transition.Result) error {
	var first error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, result); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
