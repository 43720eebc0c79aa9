package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/whisper/moderation/internal/store"
)

// Event types published toward the transport layer.
const (
	EventTimeoutExpired = "timeout_expired"
	EventTerminated     = "terminated"
)

// Event is the payload of moderation.timeout.expired.<context> and
// moderation.terminated.<context>.
type Event struct {
	Type      string     `json:"type"`
	SubjectID string     `json:"subject_id"`
	ContextID string     `json:"context_id"`
	Reason    string     `json:"reason,omitempty"`
	ExpiredAt *time.Time `json:"expired_at,omitempty"`
}

// ContextEnded is the payload of moderation.context.ended.
type ContextEnded struct {
	ContextID string `json:"context_id"`
}

// Publisher is the subset of NATSClient the event sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Events publishes timeout expiries and terminations so the transport
// can restore or end the affected session.
type Events struct {
	pub Publisher
}

// NewEvents creates an event sink publishing through pub.
func NewEvents(pub Publisher) *Events {
	return &Events{pub: pub}
}

// TimeoutExpired tells listeners the subject may speak again.
func (e *Events) TimeoutExpired(_ context.Context, t store.ActiveTimeout) error {
	at := t.ExpiresAt.UTC()
	return e.publish(SubjectTimeoutExpired, Event{
		Type:      EventTimeoutExpired,
		SubjectID: t.SubjectID,
		ContextID: t.ContextID,
		ExpiredAt: &at,
	})
}

// Terminate tells listeners to end the subject's session in the context.
func (e *Events) Terminate(_ context.Context, subjectID, contextID, reason string) error {
	return e.publish(SubjectTerminated, Event{
		Type:      EventTerminated,
		SubjectID: subjectID,
		ContextID: contextID,
		Reason:    reason,
	})
}

func (e *Events) publish(prefix string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("messaging: encode %s: %w", ev.Type, err)
	}
	if err := e.pub.Publish(prefix+"."+ev.ContextID, data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", ev.Type, err)
	}
	return nil
}
