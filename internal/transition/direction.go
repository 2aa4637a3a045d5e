package transition

import (
	"strings"

	"github.com/yairfalse/rdswitch/internal/filter"
	"github.com/yairfalse/rdswitch/pkg/instance"
)

// Direction is the requested state change.
type Direction string

const (
	Start Direction = "start"
	Stop  Direction = "stop"
)

// Consent tag keys, one per direction.
const (
	ConsentKeyStart = "autostart"
	ConsentKeyStop  = "autostop"
)

// ParseDirection lowercases an action string. Anything other than start/stop
// yields an *UnrecognizedActionError carrying the lowercased action.
func ParseDirection(action string) (Direction, error) {
	switch d := Direction(strings.ToLower(action)); d {
	case Start, Stop:
		return d, nil
	default:
		return "", &UnrecognizedActionError{Action: string(d)}
	}
}

func (d Direction) String() string {
	return string(d)
}

// RequiredStatus is the status an instance must be in to be moved in this direction.
func (d Direction) RequiredStatus() string {
	if d == Start {
		return instance.StatusStopped
	}
	return instance.StatusAvailable
}

// ConsentKey is the tag key that opts an instance in to this direction.
func (d Direction) ConsentKey() string {
	if d == Start {
		return ConsentKeyStart
	}
	return ConsentKeyStop
}

// Filter builds the guard for this direction.
func (d Direction) Filter() *filter.Filter {
	return filter.New(d.RequiredStatus(), d.ConsentKey())
}

// verb is used in log lines ("stopping", "starting").
func (d Direction) verb() string {
	if d == Start {
		return "starting"
	}
	return "stopping"
}
