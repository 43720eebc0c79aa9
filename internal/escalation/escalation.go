// Package escalation maps a violation count to an enforcement tier.
//
//	count 0  -> Clean
//	count 1  -> Warned
//	count 2  -> Muted
//	count 3+ -> Terminated (terminal for the context)
//
// The mapping is a pure function; side effects (notices, timeouts, ending
// the context) belong to the enforcement dispatcher.
package escalation

import (
	"fmt"
	"time"
)

// Tier is an ordered enforcement level.
type Tier int

const (
	Clean Tier = iota
	Warned
	Muted
	Terminated
)

// Violation counts at which each tier starts.
const (
	WarnAt      = 1
	MuteAt      = 2
	TerminateAt = 3
)

// DefaultMuteDuration is how long a Muted subject stays silent.
const DefaultMuteDuration = 60 * time.Second

func (t Tier) String() string {
	switch t {
	case Clean:
		return "clean"
	case Warned:
		return "warned"
	case Muted:
		return "muted"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// MarshalText renders the tier name in JSON.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name.
func (t *Tier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "clean":
		*t = Clean
	case "warned":
		*t = Warned
	case "muted":
		*t = Muted
	case "terminated":
		*t = Terminated
	default:
		return fmt.Errorf("escalation: unknown tier %q", b)
	}
	return nil
}

// ViolationType is the audit label stored with each violation record.
func (t Tier) ViolationType() string {
	switch t {
	case Warned:
		return "warning"
	case Muted:
		return "timeout"
	case Terminated:
		return "stream_stop"
	default:
		return "none"
	}
}

// TierForCount returns the tier reached after count violations. It never
// decreases as count grows.
func TierForCount(count int) Tier {
	switch {
	case count >= TerminateAt:
		return Terminated
	case count == MuteAt:
		return Muted
	case count == WarnAt:
		return Warned
	default:
		return Clean
	}
}

// Policy holds the user-facing parameters of each tier.
type Policy struct {
	MuteDuration time.Duration `mapstructure:"mute_duration"`
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{MuteDuration: DefaultMuteDuration}
}

// Notice returns the message shown to the subject on reaching tier.
func (p Policy) Notice(tier Tier, count int) string {
	switch tier {
	case Warned:
		return fmt.Sprintf("Warning %d/%d: your message violated the community guidelines", count, TerminateAt)
	case Muted:
		return fmt.Sprintf("You have been timed out for %d seconds due to repeated violations", int(p.MuteDuration.Seconds()))
	case Terminated:
		return "Stopped due to repeated violations"
	default:
		return ""
	}
}
