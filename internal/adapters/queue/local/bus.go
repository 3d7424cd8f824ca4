package local

import (
	"context"
	"sync"

	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
	"tally.bridge/internal/core/ports"
)

const subscriberBuffer = 64

// Bus is an in-process EventBus used when Redis is not configured. A subscriber that
// falls behind by more than its buffer loses events rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan domain.Event]struct{}
}

var _ ports.EventBus = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{subs: make(map[chan domain.Event]struct{})}
}

func (b *Bus) PublishEvent(ctx context.Context, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			logger.Warn("Event subscriber lagging, event dropped", "type", event.Type)
		}
	}
	return nil
}

// SubscribeEvents returns a channel closed once ctx is done.
func (b *Bus) SubscribeEvents(ctx context.Context) (<-chan domain.Event, error) {
	ch := make(chan domain.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
