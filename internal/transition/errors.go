package transition

import (
	"encoding/json"
	"fmt"
)

// Stage identifies where a per-instance failure happened.
type Stage string

const (
	StageListTags   Stage = "list_tags"
	StageTransition Stage = "transition"
)

// FatalError aborts a run. It is only produced when the inventory itself
// cannot be listed.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// InstanceError is a failure isolated to one instance. The run continues.
type InstanceError struct {
	InstanceID string
	Stage      Stage
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("instance %s: %s: %v", e.InstanceID, e.Stage, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// instanceErrorView is the serialized form of an InstanceError.
type instanceErrorView struct {
	InstanceID string `json:"instance_id" yaml:"instance_id"`
	Stage      Stage  `json:"stage" yaml:"stage"`
	Error      string `json:"error" yaml:"error"`
}

func (e *InstanceError) view() instanceErrorView {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return instanceErrorView{InstanceID: e.InstanceID, Stage: e.Stage, Error: msg}
}

// MarshalJSON renders the wrapped error as a string.
func (e *InstanceError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.view())
}

// MarshalYAML renders the wrapped error as a string.
func (e *InstanceError) MarshalYAML() (interface{}, error) {
	return e.view(), nil
}

// UnrecognizedActionError reports an action outside {start, stop}.
// An empty Action means the event carried none.
type UnrecognizedActionError struct {
	Action string
}

func (e *UnrecognizedActionError) Error() string {
	return fmt.Sprintf("unknown action: %s", e.DisplayAction())
}

// DisplayAction returns the action for messages, "none" when absent.
func (e *UnrecognizedActionError) DisplayAction() string {
	if e.Action == "" {
		return "none"
	}
	return e.Action
}
