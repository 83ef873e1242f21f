package distribution

import (
	"context"
	"sync"

	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/krobus00/quote-stream-service/internal/metrics"
	"github.com/sirupsen/logrus"
)

// MemoryChannel is an in-process Channel for single node deployments without nats.
type MemoryChannel struct {
	bufferSize int

	mu        sync.RWMutex
	listeners map[*memoryListener]struct{}
	closed    bool
}

func NewMemoryChannel(bufferSize int) *MemoryChannel {
	if bufferSize <= 0 {
		bufferSize = defaultListenerBufferSize
	}

	return &MemoryChannel{
		bufferSize: bufferSize,
		listeners:  make(map[*memoryListener]struct{}),
	}
}

func (c *MemoryChannel) PublishTick(ctx context.Context, tick entity.PricedTick) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tick.Validate(); err != nil {
		return err
	}

	c.broadcast(entity.NewTickMessage(tick))
	metrics.TicksPublishedTotal.Inc()
	return nil
}

func (c *MemoryChannel) PublishHeartbeat(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.broadcast(entity.NewHeartbeatMessage())
	return nil
}

func (c *MemoryChannel) Listen(ctx context.Context) (Listener, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrListenerClosed
	}

	l := &memoryListener{
		channel:  c,
		suffixes: entity.NewSuffixSet(),
		messages: make(chan entity.DistributionMessage, c.bufferSize),
	}
	c.listeners[l] = struct{}{}

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	return l, nil
}

// Close shuts the channel down and closes every listener.
func (c *MemoryChannel) Close() {
	c.mu.Lock()
	c.closed = true
	listeners := make([]*memoryListener, 0, len(c.listeners))
	for l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		_ = l.Close()
	}
}

func (c *MemoryChannel) broadcast(message entity.DistributionMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for l := range c.listeners {
		l.offer(message)
	}
}

func (c *MemoryChannel) remove(l *memoryListener) {
	c.mu.Lock()
	delete(c.listeners, l)
	c.mu.Unlock()
}

type memoryListener struct {
	channel *MemoryChannel

	mu       sync.Mutex
	suffixes entity.SuffixSet
	messages chan entity.DistributionMessage
	closed   bool
}

func (l *memoryListener) Subscribe(suffix string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}
	l.suffixes.Add(suffix)
	return nil
}

func (l *memoryListener) Unsubscribe(suffix string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}
	l.suffixes.Remove(suffix)
	return nil
}

func (l *memoryListener) Messages() <-chan entity.DistributionMessage {
	return l.messages
}

func (l *memoryListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.messages)
	l.mu.Unlock()

	l.channel.remove(l)
	return nil
}

func (l *memoryListener) offer(message entity.DistributionMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if message.IsTick() && !l.suffixes.Has(message.Tick.Ticker) {
		return
	}

	select {
	case l.messages <- message:
	default:
		logrus.Warn("distribution listener is full, dropping message")
	}
}
