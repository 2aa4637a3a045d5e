// Package filter decides which instances a transition applies to.
package filter

import (
	"strings"

	"github.com/yairfalse/rdswitch/pkg/instance"
)

// ConsentValue is the tag value that authorizes an automated state change.
const ConsentValue = "yes"

// Filter is the two-stage guard for one direction: a status precondition,
// then a consent tag.
type Filter struct {
	requiredStatus string
	consentKey     string
}

// New creates a Filter requiring the given status and consent tag key.
func New(requiredStatus, consentKey string) *Filter {
	return &Filter{
		requiredStatus: requiredStatus,
		consentKey:     consentKey,
	}
}

// RequiredStatus returns the status an instance must be in.
func (f *Filter) RequiredStatus() string {
	return f.requiredStatus
}

// ConsentKey returns the tag key that carries consent.
func (f *Filter) ConsentKey() string {
	return f.consentKey
}

// IsEligible returns true if the instance is in the required status.
// Comparison is exact: RDS reports lowercase statuses.
func (f *Filter) IsEligible(inst instance.Instance) bool {
	return inst.Status == f.requiredStatus
}

// FindConsent returns the first tag granting consent and whether one was found.
// Keys are case-sensitive, the value is matched against "yes" ignoring case.
func (f *Filter) FindConsent(tags []instance.Tag) (instance.Tag, bool) {
	for _, tag := range tags {
		if tag.Key == f.consentKey && strings.EqualFold(tag.Value, ConsentValue) {
			return tag, true
		}
	}
	return instance.Tag{}, false
}
