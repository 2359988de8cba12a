package progress

import "time"

// TimeProvider is an interface that provides a Now method to get the current time.
type TimeProvider interface {
	Now() time.Time
}

// Real implementation for production.
type realTimeProvider struct{}

func (r *realTimeProvider) Now() time.Time { return time.Now() }

// Timeline tracks temporal aspects of a scan session.
type Timeline struct {
	startedAt      time.Time
	lastAcceptedAt time.Time
	endedAt        time.Time
	timeProvider   TimeProvider
}

// NewTimeline creates a new Timeline instance.
func NewTimeline(timeProvider TimeProvider) *Timeline {
	return &Timeline{
		startedAt:    timeProvider.Now(),
		timeProvider: timeProvider,
	}
}

// StartedAt returns the time the session was created.
func (t *Timeline) StartedAt() time.Time { return t.startedAt }

// LastAcceptedAt returns the time the session last accepted an event.
func (t *Timeline) LastAcceptedAt() time.Time { return t.lastAcceptedAt }

// EndedAt returns the time the session reached a terminal phase.
func (t *Timeline) EndedAt() time.Time { return t.endedAt }

// MarkAccepted records that an event was accepted now.
func (t *Timeline) MarkAccepted() { t.lastAcceptedAt = t.timeProvider.Now() }

// MarkEnded records the terminal time.
func (t *Timeline) MarkEnded() { t.endedAt = t.timeProvider.Now() }

// Duration returns the session's lifetime so far, or its final duration once
// the session has ended.
func (t *Timeline) Duration() time.Duration {
	if !t.endedAt.IsZero() {
		return t.endedAt.Sub(t.startedAt)
	}
	return t.timeProvider.Now().Sub(t.startedAt)
}
