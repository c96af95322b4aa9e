package progress

import (
	"sync"

	"github.com/go4it/marketplace/internal/metrics"
	"github.com/go4it/marketplace/internal/model"
)

// Subscription is one client's view of an OrgApp's progress. The Events
// channel closes after a terminal event, on Close, or when the client falls
// behind; in every case the client should re-fetch state rather than assume
// the deployment failed.
type Subscription struct {
	hub   *Hub
	topic topic
	ch    chan model.ProgressEvent

	mu      sync.Mutex
	primed  bool
	floor   int64
	pending []model.ProgressEvent
	closed  bool
	lagged  bool
}

func (s *Subscription) Events() <-chan model.ProgressEvent {
	return s.ch
}

// Prime delivers the state snapshot, then any buffered events newer than it.
// A terminal snapshot ends the subscription immediately.
func (s *Subscription) Prime(snapshot model.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.primed {
		return
	}
	s.primed = true
	s.floor = snapshot.Seq
	s.ch <- snapshot
	if snapshot.Terminal() {
		s.closeLocked()
		return
	}
	pending := s.pending
	s.pending = nil
	for _, ev := range pending {
		if !s.deliverLocked(ev) {
			return
		}
	}
}

// Lagged reports whether the subscription was dropped for falling behind.
func (s *Subscription) Lagged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagged
}

func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) offer(ev model.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.primed {
		if len(s.pending) >= cap(s.ch) {
			s.lagged = true
			s.closeLocked()
			return
		}
		s.pending = append(s.pending, ev)
		return
	}
	s.deliverLocked(ev)
}

// deliverLocked sends ev if it is newer than anything delivered so far and
// reports whether the subscription is still open.
func (s *Subscription) deliverLocked(ev model.ProgressEvent) bool {
	if ev.Seq <= s.floor {
		return true
	}
	select {
	case s.ch <- ev:
		s.floor = ev.Seq
	default:
		s.lagged = true
		s.closeLocked()
		return false
	}
	if ev.Terminal() {
		s.closeLocked()
		return false
	}
	return true
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	s.hub.remove(s)
	metrics.ProgressSubscribers.Dec()
}
