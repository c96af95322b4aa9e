// Package progress fans deployment progress out to live subscribers.
//
// A subscriber first receives a "state" snapshot of the OrgApp and then only
// events with a higher sequence number, so reconnecting never replays history
// and never misses a transition that raced with the snapshot read.
package progress

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/metrics"
	"github.com/go4it/marketplace/internal/model"
)

// DefaultBuffer is the per-subscriber event buffer. A subscriber that falls
// this far behind is disconnected and has to re-fetch state.
const DefaultBuffer = 64

type topic struct {
	orgID string
	appID string
}

type Hub struct {
	broker Broker
	buffer int
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[topic]map[*Subscription]struct{}
	stop func() error
}

func NewHub(broker Broker, logger zerolog.Logger) *Hub {
	return &Hub{
		broker: broker,
		buffer: DefaultBuffer,
		logger: logger.With().Str("component", "progress-hub").Logger(),
		subs:   make(map[topic]map[*Subscription]struct{}),
	}
}

// Start attaches the hub to its broker. Events published before Start are not
// delivered to this hub's subscribers.
func (h *Hub) Start(ctx context.Context) error {
	stop, err := h.broker.Subscribe(ctx, h.dispatch)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.stop = stop
	h.mu.Unlock()
	return nil
}

// Stop detaches from the broker and closes every open subscription.
func (h *Hub) Stop() error {
	h.mu.Lock()
	stop := h.stop
	h.stop = nil
	var open []*Subscription
	for _, set := range h.subs {
		for s := range set {
			open = append(open, s)
		}
	}
	h.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
	if stop != nil {
		return stop()
	}
	return nil
}

// Publish sends ev to every subscriber of its OrgApp on every process.
// Delivery is best effort: a broker failure is logged, never returned, since
// subscribers recover by re-fetching state.
func (h *Hub) Publish(ctx context.Context, ev model.ProgressEvent) {
	if err := h.broker.Publish(ctx, ev); err != nil {
		h.logger.Warn().Err(err).
			Str("org_id", ev.OrgID).Str("app_id", ev.AppID).Str("stage", ev.Stage).
			Msg("publish progress event")
	}
}

// Subscribe registers interest in an OrgApp. The subscription buffers events
// until Prime is called with the current state.
func (h *Hub) Subscribe(orgID, appID string) *Subscription {
	s := &Subscription{
		hub:   h,
		topic: topic{orgID, appID},
		ch:    make(chan model.ProgressEvent, h.buffer),
	}
	h.mu.Lock()
	set, ok := h.subs[s.topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[s.topic] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	metrics.ProgressSubscribers.Inc()
	return s
}

// Subscribers returns the number of open subscriptions for an OrgApp.
func (h *Hub) Subscribers(orgID, appID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic{orgID, appID}])
}

func (h *Hub) dispatch(ev model.ProgressEvent) {
	h.mu.Lock()
	set := h.subs[topic{ev.OrgID, ev.AppID}]
	targets := make([]*Subscription, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.offer(ev)
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.topic]
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.topic)
	}
}
