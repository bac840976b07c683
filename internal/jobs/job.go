package jobs

import (
	"context"
	"sync"
	"time"

	"wa-video-helper/internal/mediatypes"
	"wa-video-helper/internal/metrics"
	"wa-video-helper/internal/transcoder"
	"wa-video-helper/internal/workdir"
)

// State is a job's position in its lifecycle.
type State string

const (
	StateQueued   State = "queued"
	StateProbing  State = "probing"
	StateEncoding State = "encoding"
	StateDone     State = "done"
	StateFailed   State = "failed"
	StateCanceled State = "canceled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCanceled
}

// Snapshot is a consistent copy of a job's public state.
type Snapshot struct {
	ID              string                       `json:"id"`
	Filename        string                       `json:"filename"`
	DownloadName    string                       `json:"downloadName"`
	SizeClass       mediatypes.SizeClass         `json:"sizeClass"`
	State           State                        `json:"state"`
	UploadBytes     int64                        `json:"uploadBytes"`
	DurationSeconds float64                      `json:"durationSeconds,omitempty"`
	Plan            *transcoder.BitratePlan      `json:"plan,omitempty"`
	Progress        transcoder.ProgressSample    `json:"progress"`
	Outcome         *transcoder.TranscodeOutcome `json:"outcome,omitempty"`
	Warning         string                       `json:"warning,omitempty"`
	Error           string                       `json:"error,omitempty"`
	Diagnostic      string                       `json:"diagnostic,omitempty"`
	ResultAvailable bool                         `json:"resultAvailable"`
	Downloaded      bool                         `json:"downloaded"`
	CreatedAt       time.Time                    `json:"createdAt"`
	FinishedAt      *time.Time                   `json:"finishedAt,omitempty"`
	ExpiresAt       *time.Time                   `json:"expiresAt,omitempty"`
}

// EventType classifies a progress event.
type EventType string

const (
	EventState    EventType = "state"
	EventProgress EventType = "progress"
	EventDone     EventType = "done"
	EventFailed   EventType = "failed"
	EventCanceled EventType = "canceled"
)

// Event is pushed to subscribers on every state change and progress sample.
type Event struct {
	Type EventType `json:"type"`
	Job  Snapshot  `json:"job"`
}

// subscriberBuffer is the per-subscriber event backlog. Progress events are
// dropped for slow readers; terminal events are always delivered.
const subscriberBuffer = 16

type job struct {
	mu   sync.Mutex
	snap Snapshot

	ws     *workdir.Workspace
	ctx    context.Context
	cancel context.CancelFunc

	canceledByUser bool
	downloads      int
	released       bool
	discarded      bool

	subs map[chan Event]struct{}
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.copyLocked()
}

func (j *job) copyLocked() Snapshot {
	s := j.snap
	if s.Plan != nil {
		plan := *s.Plan
		s.Plan = &plan
	}
	if s.Outcome != nil {
		outcome := *s.Outcome
		if outcome.Warning != nil {
			w := *outcome.Warning
			outcome.Warning = &w
		}
		s.Outcome = &outcome
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		s.FinishedAt = &t
	}
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		s.ExpiresAt = &t
	}
	return s
}

// update applies fn under the job lock and publishes the resulting snapshot.
func (j *job) update(typ EventType, fn func(s *Snapshot)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.snap)
	j.publishLocked(Event{Type: typ, Job: j.copyLocked()})
}

func (j *job) publishLocked(ev Event) {
	terminal := ev.Type == EventDone || ev.Type == EventFailed || ev.Type == EventCanceled
	for ch := range j.subs {
		if !terminal {
			select {
			case ch <- ev:
			default:
			}
			continue
		}

		// Make room for the final event by dropping the oldest one.
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
		close(ch)
		delete(j.subs, ch)
		metrics.ProgressSubscribers.Dec()
	}
}

func (j *job) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	j.mu.Lock()
	defer j.mu.Unlock()

	snap := j.copyLocked()
	if snap.State.Terminal() {
		ch <- Event{Type: terminalEvent(snap.State), Job: snap}
		close(ch)
		return ch, func() {}
	}

	ch <- Event{Type: EventState, Job: snap}
	j.subs[ch] = struct{}{}
	metrics.ProgressSubscribers.Inc()

	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if _, ok := j.subs[ch]; ok {
			delete(j.subs, ch)
			close(ch)
			metrics.ProgressSubscribers.Dec()
		}
	}
}

func terminalEvent(s State) EventType {
	switch s {
	case StateDone:
		return EventDone
	case StateCanceled:
		return EventCanceled
	default:
		return EventFailed
	}
}
