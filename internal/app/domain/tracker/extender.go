package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/domain/policy"
	"github.com/geowatch/geowatch/internal/app/observability/metrics"
)

// ReminderSink receives the continuation reminder when a live session
// is about to end. Implemented by the notify hub.
type ReminderSink interface {
	DeliverReminder(ctx context.Context, externalID, text string) error
}

type timerKey struct {
	externalID string
	sessionID  string
}

// Extender schedules one reminder per live-location session, fired
// shortly before the session expires so the user can extend sharing.
// A newer update for the same session supersedes the pending timer.
type Extender struct {
	logger *zap.Logger
	sink   ReminderSink

	mu     sync.Mutex
	timers map[timerKey]*time.Timer
}

func NewExtender(sink ReminderSink, logger *zap.Logger) *Extender {
	return &Extender{
		logger: logger,
		sink:   sink,
		timers: make(map[timerKey]*time.Timer),
	}
}

// Schedule arms the reminder for a live session ending at expiresAt.
// Any pending timer for the same (user, session) pair is cancelled
// first.
func (e *Extender) Schedule(externalID, sessionID string, expiresAt time.Time) {
	key := timerKey{externalID: externalID, sessionID: sessionID}
	delay := policy.ReminderDelay(expiresAt, time.Now())

	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[key]; ok {
		t.Stop()
	}
	e.timers[key] = time.AfterFunc(delay, func() { e.fire(key) })

	e.logger.Debug("Live reminder scheduled",
		zap.String("externalID", externalID),
		zap.String("sessionID", sessionID),
		zap.Duration("delay", delay))
}

// Cancel drops the pending reminder for a session, if any.
func (e *Extender) Cancel(externalID, sessionID string) {
	key := timerKey{externalID: externalID, sessionID: sessionID}

	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[key]; ok {
		t.Stop()
		delete(e.timers, key)
	}
}

// Stop cancels every pending reminder. Used on shutdown.
func (e *Extender) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, t := range e.timers {
		t.Stop()
		delete(e.timers, key)
	}
}

func (e *Extender) fire(key timerKey) {
	e.mu.Lock()
	delete(e.timers, key)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := e.sink.DeliverReminder(ctx, key.externalID,
		"Your live location sharing is about to end. Extend it to keep receiving alerts.")
	if err != nil {
		e.logger.Warn("Live reminder delivery failed",
			zap.String("externalID", key.externalID), zap.Any("error", err))
		return
	}
	metrics.Get().RemindersSentTotal.Add(ctx, 1)
	e.logger.Debug("Live reminder sent", zap.String("externalID", key.externalID))
}
