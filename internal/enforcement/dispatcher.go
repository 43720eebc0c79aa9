// Package enforcement turns a message into a Decision: it classifies the
// text, counts confirmed violations, maps the count to an escalation tier
// and applies the tier's side effects.
//
// Moderate never fails. Storage errors are logged and the message is let
// through, so the pipeline never blocks delivery on a broken backend.
package enforcement

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/clock"
	"github.com/whisper/moderation/internal/escalation"
	"github.com/whisper/moderation/internal/ledger"
	"github.com/whisper/moderation/internal/metrics"
	"github.com/whisper/moderation/internal/moderation"
	"github.com/whisper/moderation/internal/store"
)

// Analyzer classifies text without failing. *moderation.Cascade is the
// production implementation.
type Analyzer interface {
	Analyze(ctx context.Context, text string) moderation.ClassificationResult
}

// Timeouts issues and checks mutes. *timeout.Scheduler is the production
// implementation.
type Timeouts interface {
	Schedule(ctx context.Context, subjectID, contextID string, d time.Duration) store.ActiveTimeout
	IsMuted(ctx context.Context, subjectID, contextID string) (bool, time.Duration)
	EndContext(ctx context.Context, contextID string) int
}

// Terminator ends a subject's participation in a context, e.g. stops a
// stream. It is called once, when the subject first reaches Terminated.
type Terminator interface {
	Terminate(ctx context.Context, subjectID, contextID, reason string) error
}

type nopTerminator struct{}

func (nopTerminator) Terminate(context.Context, string, string, string) error { return nil }

// Dispatcher is the single entry point of the moderation engine. It is
// safe for concurrent use.
type Dispatcher struct {
	analyzer   Analyzer
	ledger     ledger.Ledger
	violations store.ViolationStore
	timeouts   Timeouts
	terminator Terminator
	policy     escalation.Policy
	clock      clock.Clock
	log        *logrus.Entry
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTerminator sets who is told when a subject is terminated.
func WithTerminator(t Terminator) Option {
	return func(d *Dispatcher) { d.terminator = t }
}

// WithPolicy overrides the default escalation policy.
func WithPolicy(p escalation.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithClock sets the clock used to stamp violation records.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// NewDispatcher wires the engine together.
func NewDispatcher(analyzer Analyzer, l ledger.Ledger, violations store.ViolationStore, timeouts Timeouts, logger *logrus.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		analyzer:   analyzer,
		ledger:     l,
		violations: violations,
		timeouts:   timeouts,
		terminator: nopTerminator{},
		policy:     escalation.DefaultPolicy(),
		clock:      clock.Real(),
		log:        logger.WithField("component", "enforcement"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Moderate decides what happens to one message.
func (d *Dispatcher) Moderate(ctx context.Context, req moderation.ModerationRequest) Decision {
	dec := d.moderate(ctx, req)
	metrics.DecisionsTotal.WithLabelValues(string(dec.Kind())).Inc()
	return dec
}

func (d *Dispatcher) moderate(ctx context.Context, req moderation.ModerationRequest) Decision {
	if muted, remaining := d.timeouts.IsMuted(ctx, req.SubjectID, req.ContextID); muted {
		return Blocked{Reason: ReasonMuted, Remaining: remaining}
	}
	if d.terminated(ctx, req) {
		return Blocked{Reason: ReasonTerminated}
	}

	res := d.analyzer.Analyze(ctx, req.Text)
	if !res.IsToxic {
		if res.MaskedText != req.Text {
			return AllowMasked{MaskedText: res.MaskedText}
		}
		return Allow{Text: req.Text}
	}
	if !res.ShouldWarn {
		return AllowMasked{MaskedText: res.MaskedText}
	}

	// Enforcement is decided. A caller that goes away from here on must
	// not lose the increment or its side effects.
	return d.enforce(context.WithoutCancel(ctx), req, res)
}

// terminated reports whether the subject already reached the terminal
// tier in this context. Lookup errors fail open.
func (d *Dispatcher) terminated(ctx context.Context, req moderation.ModerationRequest) bool {
	n, err := d.ledger.Count(ctx, req.SubjectID, req.ContextID)
	if err != nil {
		d.persistenceError("ledger_count", err, req)
		return false
	}
	return escalation.TierForCount(n) == escalation.Terminated
}

func (d *Dispatcher) enforce(ctx context.Context, req moderation.ModerationRequest, res moderation.ClassificationResult) Decision {
	count, err := d.ledger.Increment(ctx, req.SubjectID, req.ContextID)
	if err != nil {
		d.persistenceError("ledger_increment", err, req)
		return AllowMasked{MaskedText: res.MaskedText}
	}
	tier := escalation.TierForCount(count)

	rec := store.NewViolationRecord(req.SubjectID, req.ContextID, req.Text, res.Score, res.DetectedTerms, tier, d.clock.Now())
	if err := d.violations.AppendViolation(ctx, rec); err != nil {
		d.persistenceError("append_violation", err, req)
	}

	entry := d.log.WithFields(logrus.Fields{
		"subject": req.SubjectID,
		"context": req.ContextID,
		"count":   count,
		"tier":    tier,
		"score":   res.Score,
		"method":  res.Method,
	})
	message := d.policy.Notice(tier, count)

	switch tier {
	case escalation.Warned:
		entry.Info("violation: warned")
		return Warn{Tier: tier, Count: count, Message: message, MaskedText: res.MaskedText}

	case escalation.Muted:
		t := d.timeouts.Schedule(ctx, req.SubjectID, req.ContextID, d.policy.MuteDuration)
		entry.WithField("expires_at", t.ExpiresAt).Info("violation: muted")
		return Mute{
			Tier:       tier,
			Count:      count,
			Duration:   d.policy.MuteDuration,
			ExpiresAt:  t.ExpiresAt,
			Message:    message,
			MaskedText: res.MaskedText,
		}

	default:
		// Only the violation that crosses into Terminated ends the
		// context; racing violations past it report the tier again.
		if count == escalation.TerminateAt {
			if err := d.terminator.Terminate(ctx, req.SubjectID, req.ContextID, message); err != nil {
				entry.WithError(err).Warn("terminate notification failed")
			}
			entry.Info("violation: terminated")
		}
		return Terminate{Tier: tier, Count: count, Message: message, MaskedText: res.MaskedText}
	}
}

// EndContext tears down per-context state when the context closes:
// pending mutes in it are cancelled without announcement.
func (d *Dispatcher) EndContext(ctx context.Context, contextID string) {
	n := d.timeouts.EndContext(ctx, contextID)
	d.log.WithFields(logrus.Fields{"context": contextID, "timeouts": n}).Debug("context ended")
}

func (d *Dispatcher) persistenceError(op string, err error, req moderation.ModerationRequest) {
	metrics.PersistenceErrors.WithLabelValues(op).Inc()
	d.log.WithError(err).WithFields(logrus.Fields{
		"op":      op,
		"subject": req.SubjectID,
		"context": req.ContextID,
	}).Warn("storage error, failing open")
}
