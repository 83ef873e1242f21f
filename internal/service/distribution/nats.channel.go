package distribution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/krobus00/quote-stream-service/internal/constant"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/krobus00/quote-stream-service/internal/metrics"
	"github.com/krobus00/quote-stream-service/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const defaultListenerBufferSize = 1024

type NatsChannel struct {
	nc         *nats.Conn
	bufferSize int
}

func NewNatsChannel(nc *nats.Conn, bufferSize int) *NatsChannel {
	if bufferSize <= 0 {
		bufferSize = defaultListenerBufferSize
	}

	return &NatsChannel{nc: nc, bufferSize: bufferSize}
}

func (c *NatsChannel) PublishTick(ctx context.Context, tick entity.PricedTick) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tick.Validate(); err != nil {
		return err
	}

	err := util.PublishEvent(c.nc, constant.GetDistributionTickSubject(tick.Ticker), entity.NewTickMessage(tick))
	if err != nil {
		return fmt.Errorf("publish tick %s: %w", tick.Ticker, err)
	}

	metrics.TicksPublishedTotal.Inc()
	return nil
}

func (c *NatsChannel) PublishHeartbeat(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return util.PublishEvent(c.nc, constant.DistributionSubjectHeartbeat, entity.NewHeartbeatMessage())
}

func (c *NatsChannel) Listen(ctx context.Context) (Listener, error) {
	if c.nc.IsClosed() {
		return nil, nats.ErrConnectionClosed
	}

	l := &natsListener{
		nc:       c.nc,
		messages: make(chan entity.DistributionMessage, c.bufferSize),
		subs:     make(map[string]*nats.Subscription),
		done:     make(chan struct{}),
	}

	heartbeatSub, err := c.nc.Subscribe(constant.DistributionSubjectHeartbeat, l.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe heartbeat: %w", err)
	}
	l.heartbeatSub = heartbeatSub

	go l.watch(ctx, c.nc.StatusChanged(nats.CLOSED))

	return l, nil
}

type natsListener struct {
	nc           *nats.Conn
	heartbeatSub *nats.Subscription

	mu       sync.Mutex
	subs     map[string]*nats.Subscription
	messages chan entity.DistributionMessage
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

func (l *natsListener) Subscribe(suffix string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}
	if _, ok := l.subs[suffix]; ok {
		return nil
	}

	sub, err := l.nc.Subscribe(constant.GetDistributionTickSubject(suffix), l.handle)
	if err != nil {
		return err
	}
	l.subs[suffix] = sub

	return nil
}

func (l *natsListener) Unsubscribe(suffix string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}
	sub, ok := l.subs[suffix]
	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	delete(l.subs, suffix)

	return nil
}

func (l *natsListener) Messages() <-chan entity.DistributionMessage {
	return l.messages
}

func (l *natsListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)

		l.mu.Lock()
		defer l.mu.Unlock()

		var errs []error
		if l.heartbeatSub != nil {
			errs = append(errs, ignoreClosed(l.heartbeatSub.Unsubscribe()))
		}
		for suffix, sub := range l.subs {
			errs = append(errs, ignoreClosed(sub.Unsubscribe()))
			delete(l.subs, suffix)
		}

		l.closed = true
		close(l.messages)
		err = errors.Join(errs...)
	})

	return err
}

func (l *natsListener) watch(ctx context.Context, closedCh chan nats.Status) {
	defer l.nc.RemoveStatusListener(closedCh)

	select {
	case <-ctx.Done():
	case <-closedCh:
		logrus.Warn("distribution channel connection closed")
	case <-l.done:
		return
	}

	if err := l.Close(); err != nil {
		logrus.WithError(err).Warn("failed to close distribution listener")
	}
}

func (l *natsListener) handle(msg *nats.Msg) {
	var message entity.DistributionMessage
	if err := json.Unmarshal(msg.Data, &message); err != nil {
		logrus.WithField("subject", msg.Subject).Warnf("dropping undecodable distribution message: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	select {
	case l.messages <- message:
	default:
		logrus.WithField("subject", msg.Subject).Warn("distribution listener is full, dropping message")
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	return err
}
