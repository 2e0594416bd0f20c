package memory

import (
	"context"
	"path"
	"sync"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

const subscriberBuffer = 256

type subscriber struct {
	pattern string
	ch      chan []byte
}

// Bus implements domain.SignalBus inside one process. Delivery is
// non-blocking: a subscriber whose buffer is full misses the message.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers payload to every subscriber whose channel or pattern
// matches.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers for channel (glob patterns allowed) until ctx ends.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

var _ domain.SignalBus = (*Bus)(nil)
