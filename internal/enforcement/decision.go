package enforcement

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/whisper/moderation/internal/escalation"
)

// Kind names a Decision variant on the wire and in metrics.
type Kind string

const (
	KindAllow       Kind = "allow"
	KindAllowMasked Kind = "allow_masked"
	KindWarn        Kind = "warn"
	KindMute        Kind = "mute"
	KindTerminate   Kind = "terminate"
	KindBlocked     Kind = "blocked"
)

// Decision is the outcome of moderating one message. The set of
// variants is closed: Allow, AllowMasked, Warn, Mute, Terminate and
// Blocked.
type Decision interface {
	Kind() Kind
	decision()
}

// Allow delivers the text unchanged.
type Allow struct {
	Text string
}

// AllowMasked delivers the masked rendering instead of the original.
type AllowMasked struct {
	MaskedText string
}

// Warn is the first confirmed violation in a context.
type Warn struct {
	Tier       escalation.Tier
	Count      int
	Message    string
	MaskedText string
}

// Mute silences the subject in the context for Duration.
type Mute struct {
	Tier       escalation.Tier
	Count      int
	Duration   time.Duration
	ExpiresAt  time.Time
	Message    string
	MaskedText string
}

// Terminate ends the subject's participation in the context.
type Terminate struct {
	Tier       escalation.Tier
	Count      int
	Message    string
	MaskedText string
}

// BlockReason says why a message was dropped without classification.
type BlockReason string

const (
	ReasonMuted      BlockReason = "muted"
	ReasonTerminated BlockReason = "terminated"
)

// Blocked drops a message from a subject who may not speak. The text is
// neither classified nor counted.
type Blocked struct {
	Reason    BlockReason
	Remaining time.Duration
}

func (Allow) Kind() Kind       { return KindAllow }
func (AllowMasked) Kind() Kind { return KindAllowMasked }
func (Warn) Kind() Kind        { return KindWarn }
func (Mute) Kind() Kind        { return KindMute }
func (Terminate) Kind() Kind   { return KindTerminate }
func (Blocked) Kind() Kind     { return KindBlocked }

func (Allow) decision()       {}
func (AllowMasked) decision() {}
func (Warn) decision()        {}
func (Mute) decision()        {}
func (Terminate) decision()   {}
func (Blocked) decision()     {}

// Envelope is the JSON form of a Decision sent back to the transport.
type Envelope struct {
	Kind             Kind            `json:"kind"`
	Text             string          `json:"text,omitempty"`
	Tier             escalation.Tier `json:"tier,omitempty"`
	Count            int             `json:"count,omitempty"`
	Message          string          `json:"message,omitempty"`
	DurationSeconds  int             `json:"duration_seconds,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	Reason           BlockReason     `json:"reason,omitempty"`
	RemainingSeconds int             `json:"remaining_seconds,omitempty"`
}

// Encode flattens d into an Envelope. Text carries whatever the
// transport may broadcast: the original for Allow, the masked rendering
// otherwise.
func Encode(d Decision) Envelope {
	switch d := d.(type) {
	case Allow:
		return Envelope{Kind: KindAllow, Text: d.Text}
	case AllowMasked:
		return Envelope{Kind: KindAllowMasked, Text: d.MaskedText}
	case Warn:
		return Envelope{Kind: KindWarn, Text: d.MaskedText, Tier: d.Tier, Count: d.Count, Message: d.Message}
	case Mute:
		exp := d.ExpiresAt.UTC()
		return Envelope{
			Kind:            KindMute,
			Text:            d.MaskedText,
			Tier:            d.Tier,
			Count:           d.Count,
			Message:         d.Message,
			DurationSeconds: seconds(d.Duration),
			ExpiresAt:       &exp,
		}
	case Terminate:
		return Envelope{Kind: KindTerminate, Text: d.MaskedText, Tier: d.Tier, Count: d.Count, Message: d.Message}
	case Blocked:
		return Envelope{Kind: KindBlocked, Reason: d.Reason, RemainingSeconds: seconds(d.Remaining)}
	default:
		panic(fmt.Sprintf("enforcement: unknown decision %T", d))
	}
}

// Decode rebuilds the Decision an Envelope was encoded from.
func (e Envelope) Decode() (Decision, error) {
	switch e.Kind {
	case KindAllow:
		return Allow{Text: e.Text}, nil
	case KindAllowMasked:
		return AllowMasked{MaskedText: e.Text}, nil
	case KindWarn:
		return Warn{Tier: e.Tier, Count: e.Count, Message: e.Message, MaskedText: e.Text}, nil
	case KindMute:
		m := Mute{
			Tier:       e.Tier,
			Count:      e.Count,
			Duration:   time.Duration(e.DurationSeconds) * time.Second,
			Message:    e.Message,
			MaskedText: e.Text,
		}
		if e.ExpiresAt != nil {
			m.ExpiresAt = *e.ExpiresAt
		}
		return m, nil
	case KindTerminate:
		return Terminate{Tier: e.Tier, Count: e.Count, Message: e.Message, MaskedText: e.Text}, nil
	case KindBlocked:
		return Blocked{Reason: e.Reason, Remaining: time.Duration(e.RemainingSeconds) * time.Second}, nil
	default:
		return nil, fmt.Errorf("enforcement: unknown decision kind %q", e.Kind)
	}
}

// Marshal encodes d as JSON.
func Marshal(d Decision) ([]byte, error) {
	return json.Marshal(Encode(d))
}

// seconds rounds up so a mute with 300ms left is not reported as 0.
func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
