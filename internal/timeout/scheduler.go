// Package timeout tracks active mutes and expires them.
//
// Each (subject, context) pair has at most one entry. Scheduling a new
// timeout for a pair replaces the previous one and cancels its timer.
// An entry is retired exactly once, by whichever comes first: its timer
// firing, a lookup that finds it past expiry, or the sweeper. The
// retiring path persists the inactive record and emits the expiry
// notification, so IsMuted never depends on timer timing.
package timeout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/clock"
	"github.com/whisper/moderation/internal/metrics"
	"github.com/whisper/moderation/internal/moderation"
	"github.com/whisper/moderation/internal/store"
)

// Notifier is told when a timeout issued by this scheduler expires.
type Notifier interface {
	TimeoutExpired(ctx context.Context, t store.ActiveTimeout) error
}

// NopNotifier discards expiry events.
type NopNotifier struct{}

func (NopNotifier) TimeoutExpired(context.Context, store.ActiveTimeout) error { return nil }

type entry struct {
	timeout store.ActiveTimeout
	gen     uint64
	timer   clock.Timer
	// owned is false for timeouts loaded from the store that another
	// instance issued; that instance retires them.
	owned bool
}

// Scheduler is safe for concurrent use. Operations on different pairs
// never contend on a shared lock.
type Scheduler struct {
	clock    clock.Clock
	store    store.TimeoutStore
	notifier Notifier
	log      *logrus.Entry

	entries *xsync.MapOf[string, entry]
	gen     atomic.Uint64
}

// NewScheduler creates a scheduler. A nil notifier discards events.
func NewScheduler(clk clock.Clock, timeouts store.TimeoutStore, notifier Notifier, logger *logrus.Logger) *Scheduler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Scheduler{
		clock:    clk,
		store:    timeouts,
		notifier: notifier,
		log:      logger.WithField("component", "timeout"),
		entries:  xsync.NewMapOf[string, entry](),
	}
}

// Schedule mutes subjectID in contextID for d and arranges its expiry.
// Persistence failures are logged; the in-memory mute still applies.
func (s *Scheduler) Schedule(ctx context.Context, subjectID, contextID string, d time.Duration) store.ActiveTimeout {
	now := s.clock.Now()
	t := store.ActiveTimeout{
		SubjectID: subjectID,
		ContextID: contextID,
		IssuedAt:  now,
		ExpiresAt: now.Add(d),
		Active:    true,
	}
	key := moderation.Key(subjectID, contextID)
	gen := s.gen.Add(1)

	// The timer is created outside Compute: a zero-duration fake timer
	// fires synchronously and must not re-enter the map under its lock.
	timer := s.clock.AfterFunc(d, func() { s.retire(key, gen) })

	var replaced clock.Timer
	s.entries.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if loaded && old.owned && old.gen > gen {
			// A concurrent Schedule won; ours is stale.
			replaced = timer
			return old, false
		}
		if loaded && old.owned {
			replaced = old.timer
		} else {
			metrics.ActiveTimeouts.Inc()
		}
		return entry{timeout: t, gen: gen, timer: timer, owned: true}, false
	})
	if replaced != nil {
		replaced.Stop()
	}

	if err := s.store.UpsertTimeout(ctx, t); err != nil {
		metrics.PersistenceErrors.WithLabelValues("upsert_timeout").Inc()
		s.log.WithError(err).WithFields(logrus.Fields{
			"subject": subjectID,
			"context": contextID,
		}).Warn("persist timeout failed")
	}

	s.log.WithFields(logrus.Fields{
		"subject":  subjectID,
		"context":  contextID,
		"duration": d,
	}).Info("timeout scheduled")
	return t
}

// IsMuted reports whether subjectID is muted in contextID and for how
// much longer. A timeout past its expiry is treated as inactive even if
// its timer has not run yet. Pairs unknown to this instance are looked
// up in the store; lookup errors fail open.
func (s *Scheduler) IsMuted(ctx context.Context, subjectID, contextID string) (bool, time.Duration) {
	now := s.clock.Now()
	key := moderation.Key(subjectID, contextID)

	if e, ok := s.entries.Load(key); ok {
		if e.timeout.ActiveAt(now) {
			return true, e.timeout.Remaining(now)
		}
		s.retire(key, e.gen)
		return false, 0
	}

	t, err := s.store.ActiveTimeout(ctx, subjectID, contextID)
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("active_timeout").Inc()
		s.log.WithError(err).WithFields(logrus.Fields{
			"subject": subjectID,
			"context": contextID,
		}).Warn("timeout lookup failed, allowing")
		return false, 0
	}
	if t == nil || !t.ActiveAt(now) {
		return false, 0
	}

	gen := s.gen.Add(1)
	s.entries.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if loaded {
			return old, false
		}
		return entry{timeout: *t, gen: gen}, false
	})
	return true, t.Remaining(now)
}

// retire removes the entry for key if it is still generation gen. An
// owned entry is persisted as inactive and announced.
func (s *Scheduler) retire(key string, gen uint64) {
	var (
		gone    entry
		retired bool
	)
	s.entries.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if !loaded || old.gen != gen {
			return old, !loaded
		}
		gone, retired = old, true
		return old, true
	})
	if !retired {
		return
	}
	if gone.timer != nil {
		gone.timer.Stop()
	}
	if !gone.owned {
		return
	}
	metrics.ActiveTimeouts.Dec()

	t := gone.timeout
	t.Active = false
	ctx := context.Background()

	if err := s.store.UpsertTimeout(ctx, t); err != nil {
		metrics.PersistenceErrors.WithLabelValues("upsert_timeout").Inc()
		s.log.WithError(err).WithFields(logrus.Fields{
			"subject": t.SubjectID,
			"context": t.ContextID,
		}).Warn("persist timeout expiry failed")
	}
	if err := s.notifier.TimeoutExpired(ctx, t); err != nil {
		s.log.WithError(err).WithField("context", t.ContextID).Warn("notify timeout expiry failed")
	}
	s.log.WithFields(logrus.Fields{
		"subject": t.SubjectID,
		"context": t.ContextID,
	}).Info("timeout expired")
}

// EndContext cancels every pending timeout in contextID without
// announcing them. Used when the context itself is torn down.
func (s *Scheduler) EndContext(ctx context.Context, contextID string) int {
	var keys []string
	s.entries.Range(func(key string, e entry) bool {
		if e.timeout.ContextID == contextID {
			keys = append(keys, key)
		}
		return true
	})

	ended := 0
	for _, key := range keys {
		var (
			gone    entry
			removed bool
		)
		s.entries.Compute(key, func(old entry, loaded bool) (entry, bool) {
			if !loaded {
				return old, true
			}
			gone, removed = old, true
			return old, true
		})
		if !removed {
			continue
		}
		ended++
		if gone.timer != nil {
			gone.timer.Stop()
		}
		if !gone.owned {
			continue
		}
		metrics.ActiveTimeouts.Dec()
		t := gone.timeout
		t.Active = false
		if err := s.store.UpsertTimeout(ctx, t); err != nil {
			metrics.PersistenceErrors.WithLabelValues("upsert_timeout").Inc()
			s.log.WithError(err).WithField("context", contextID).Warn("persist timeout cancel failed")
		}
	}
	if ended > 0 {
		s.log.WithFields(logrus.Fields{"context": contextID, "count": ended}).Info("context timeouts cancelled")
	}
	return ended
}

// Sweep retires every entry past its expiry and returns how many it
// retired.
func (s *Scheduler) Sweep() int {
	now := s.clock.Now()
	type due struct {
		key string
		gen uint64
	}
	var expired []due
	s.entries.Range(func(key string, e entry) bool {
		if !e.timeout.ActiveAt(now) {
			expired = append(expired, due{key, e.gen})
		}
		return true
	})
	for _, d := range expired {
		s.retire(d.key, d.gen)
	}
	return len(expired)
}

// StartSweeper runs Sweep every interval until ctx is cancelled. It
// bounds the memory held by entries loaded from the store, which have
// no timer of their own.
func (s *Scheduler) StartSweeper(ctx context.Context, interval time.Duration) {
	ticks, stop := s.clock.NewTicker(interval)
	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				s.log.Info("sweeper stopped")
				return
			case <-ticks:
				if n := s.Sweep(); n > 0 {
					s.log.WithField("count", n).Debug("swept expired timeouts")
				}
			}
		}
	}()
}

// Len returns the number of tracked timeouts.
func (s *Scheduler) Len() int {
	return s.entries.Size()
}
