package transition

import (
	"time"

	"github.com/yairfalse/rdswitch/pkg/instance"
)

// OutcomeStatus is what happened to a selected instance.
type OutcomeStatus string

const (
	StatusSucceeded    OutcomeStatus = "succeeded"
	StatusFailed       OutcomeStatus = "failed"
	StatusNotAttempted OutcomeStatus = "not_attempted"
)

// Outcome is the per-instance record for an instance selected for transition.
type Outcome struct {
	InstanceID  string        `json:"instance_id" yaml:"instance_id"`
	ARN         string        `json:"arn" yaml:"arn"`
	PriorStatus string        `json:"prior_status" yaml:"prior_status"`
	ConsentTag  instance.Tag  `json:"consent_tag" yaml:"consent_tag"`
	Status      OutcomeStatus `json:"status" yaml:"status"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Result is the outcome of one Transition call. It is never persisted by the
// transitioner itself.
type Result struct {
	Direction        Direction        `json:"direction" yaml:"direction"`
	Mode             Mode             `json:"mode" yaml:"mode"`
	StartedAt        time.Time        `json:"started_at" yaml:"started_at"`
	Duration         time.Duration    `json:"duration" yaml:"duration"`
	Scanned          int              `json:"scanned" yaml:"scanned"`
	SkippedStatus    int              `json:"skipped_status" yaml:"skipped_status"`
	SkippedNoConsent int              `json:"skipped_no_consent" yaml:"skipped_no_consent"`
	Outcomes         []Outcome        `json:"outcomes" yaml:"outcomes"`
	Errors           []*InstanceError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Selected returns the identifiers chosen for transition, in inventory order.
func (r *Result) Selected() []string {
	ids := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		ids = append(ids, o.InstanceID)
	}
	return ids
}

// Count returns how many selected instances ended with the given status.
func (r *Result) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// ErrorsAt returns the instance errors recorded at one stage.
func (r *Result) ErrorsAt(stage Stage) []*InstanceError {
	var errs []*InstanceError
	for _, e := range r.Errors {
		if e.Stage == stage {
			errs = append(errs, e)
		}
	}
	return errs
}

// HasInstanceErrors returns true if any instance failed at any stage.
func (r *Result) HasInstanceErrors() bool {
	return len(r.Errors) > 0
}
