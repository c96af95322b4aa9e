package progress

import (
	"context"
	"sync"

	"github.com/go4it/marketplace/internal/model"
)

// Broker carries progress events between processes. The worker and every API
// replica publish into it; each Hub subscribes once and fans out locally.
type Broker interface {
	Publish(ctx context.Context, ev model.ProgressEvent) error
	// Subscribe registers handler for every event published after it returns.
	// The returned func stops delivery.
	Subscribe(ctx context.Context, handler func(model.ProgressEvent)) (func() error, error)
}

// LocalBroker delivers events within the current process only.
type LocalBroker struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]func(model.ProgressEvent)
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{handlers: make(map[int]func(model.ProgressEvent))}
}

func (b *LocalBroker) Publish(_ context.Context, ev model.ProgressEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

func (b *LocalBroker) Subscribe(_ context.Context, handler func(model.ProgressEvent)) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
		return nil
	}, nil
}
