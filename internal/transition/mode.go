package transition

import (
	"fmt"
	"strings"
)

// Mode controls whether selected instances are actually transitioned.
type Mode string

const (
	// DryRun computes and reports the target set without issuing commands.
	DryRun Mode = "dry_run"
	// Execute issues a start/stop command for every selected instance.
	Execute Mode = "execute"
)

// DefaultMode is used when no mode is configured.
const DefaultMode = DryRun

// ParseMode accepts "dry_run", "dry-run", "dryrun" and "execute".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dry_run", "dry-run", "dryrun":
		return DryRun, nil
	case "execute":
		return Execute, nil
	default:
		return "", fmt.Errorf("unknown mode %q (must be dry_run or execute)", s)
	}
}

func (m Mode) String() string {
	return string(m)
}
