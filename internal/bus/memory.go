package bus

import (
	"context"
	"strings"
	"sync"
	"time"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/observability/metrics"
)

// MemoryBus is an in-process Bus used by tests and single-binary setups.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	buffer int
	closed bool
}

// NewMemoryBus creates a bus whose subscribers buffer up to buffer messages
// before dropping.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MemoryBus{subs: make(map[string]map[*memorySubscription]struct{}), buffer: buffer}
}

// Publish hands the payload to every current subscriber of channel.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if strings.TrimSpace(channel) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "channel 不能为空")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body := append([]byte(nil), payload...)
	msg := Message{Channel: channel, Payload: body, Kind: KindData, ReceivedAt: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	metrics.ObserveBusPublish(channel)
	for sub := range b.subs[channel] {
		sub.offer(msg)
	}
	return nil
}

// Subscribe registers a new subscriber. The first frame is a control frame
// confirming the subscription.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if strings.TrimSpace(channel) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "channel 不能为空")
	}
	sub := &memorySubscription{
		bus:     b,
		channel: channel,
		ch:      make(chan Message, b.buffer+1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*memorySubscription]struct{})
		b.subs[channel] = set
	}
	set[sub] = struct{}{}
	sub.ch <- Message{Channel: channel, Payload: []byte("subscribe"), Kind: KindControl, ReceivedAt: time.Now()}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Subscribers returns the number of live subscriptions on channel.
func (b *MemoryBus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Close terminates every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, set := range b.subs {
		for sub := range set {
			sub.closeLocked()
		}
		delete(b.subs, channel)
	}
	return nil
}

func (b *MemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.channel]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.channel)
		}
	}
	sub.closeLocked()
}

type memorySubscription struct {
	bus     *MemoryBus
	channel string
	ch      chan Message
	done    chan struct{}
	// closed is guarded by bus.mu.
	closed bool
}

func (s *memorySubscription) Messages() <-chan Message { return s.ch }

func (s *memorySubscription) Close() error {
	s.bus.remove(s)
	return nil
}

// offer must be called with bus.mu held for reading.
func (s *memorySubscription) offer(msg Message) {
	select {
	case s.ch <- msg:
	default:
		metrics.ObserveBusDrop(s.channel)
	}
}

// closeLocked must be called with bus.mu held for writing.
func (s *memorySubscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

var _ Bus = (*MemoryBus)(nil)
