package group

import (
	"context"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/krobus00/quote-stream-service/internal/constant"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/krobus00/quote-stream-service/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const subscriptionKindSubscribe = "subscribe"

type redisGroup struct {
	members map[string]Member
	ready   chan struct{}
	live    bool
}

func newRedisGroup() *redisGroup {
	return &redisGroup{
		members: make(map[string]Member),
		ready:   make(chan struct{}),
	}
}

func (g *redisGroup) markLive() {
	if g.live {
		return
	}
	g.live = true
	close(g.ready)
}

// RedisLayer is a named broadcast group layer shared by every process connected to
// the same redis. Each group maps to one pub/sub channel; a process holds a redis
// subscription for a group only while it has at least one local member in it.
type RedisLayer struct {
	client *redis.Client

	mu     sync.RWMutex
	pubsub *redis.PubSub
	groups map[string]*redisGroup
	// subscribe commands written per channel and not yet acknowledged by redis
	inflight map[string]int
	closed   bool
	done     chan struct{}

	wg sync.WaitGroup
}

func NewRedisLayer(client *redis.Client) *RedisLayer {
	return &RedisLayer{
		client:   client,
		groups:   make(map[string]*redisGroup),
		inflight: make(map[string]int),
		done:     make(chan struct{}),
	}
}

// Send publishes update to every current member of group, in any process.
// Sending to a group without members is a no-op.
func (l *RedisLayer) Send(ctx context.Context, group string, update entity.StockPriceUpdate) error {
	if strings.TrimSpace(group) == "" {
		return ErrEmptyGroup
	}

	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}

	return l.client.Publish(ctx, constant.GetGroupChannel(group), payload).Err()
}

// Join returns once redis has acknowledged the subscription for group, so a
// Send issued after Join reaches member. A join abandoned through ctx is undone.
func (l *RedisLayer) Join(ctx context.Context, group string, member Member) error {
	if strings.TrimSpace(group) == "" {
		return ErrEmptyGroup
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLayerClosed
	}

	g, ok := l.groups[group]
	if !ok {
		if err := l.subscribe(ctx, constant.GetGroupChannel(group)); err != nil {
			l.mu.Unlock()
			return err
		}
		g = newRedisGroup()
		l.groups[group] = g
	}

	_, alreadyJoined := g.members[member.ID()]
	if !alreadyJoined {
		g.members[member.ID()] = member
		metrics.GroupMembers.Inc()
	}
	ready := g.ready
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-l.done:
		return ErrLayerClosed
	case <-ctx.Done():
		if !alreadyJoined {
			_ = l.Leave(context.WithoutCancel(ctx), group, member)
		}
		return ctx.Err()
	}
}

// subscribe must be called with l.mu held.
func (l *RedisLayer) subscribe(ctx context.Context, channel string) error {
	if l.pubsub == nil {
		pubsub := l.client.Subscribe(ctx)
		if err := pubsub.Subscribe(ctx, channel); err != nil {
			_ = pubsub.Close()
			return err
		}
		l.pubsub = pubsub
		l.inflight[channel]++
		l.wg.Add(1)
		go l.dispatch(pubsub.ChannelWithSubscriptions())
		return nil
	}

	if err := l.pubsub.Subscribe(ctx, channel); err != nil {
		return err
	}
	l.inflight[channel]++

	return nil
}

// Leave is idempotent. The redis subscription for group is dropped with its last local member.
func (l *RedisLayer) Leave(ctx context.Context, group string, member Member) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[group]
	if !ok {
		return nil
	}
	if _, joined := g.members[member.ID()]; !joined {
		return nil
	}

	delete(g.members, member.ID())
	metrics.GroupMembers.Dec()
	if len(g.members) > 0 {
		return nil
	}

	delete(l.groups, group)
	if l.closed || l.pubsub == nil {
		return nil
	}

	return l.pubsub.Unsubscribe(ctx, constant.GetGroupChannel(group))
}

func (l *RedisLayer) MemberCount(group string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	g, ok := l.groups[group]
	if !ok {
		return 0
	}

	return len(g.members)
}

func (l *RedisLayer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	pubsub := l.pubsub
	l.mu.Unlock()

	var err error
	if pubsub != nil {
		err = pubsub.Close()
	}
	l.wg.Wait()

	return err
}

func (l *RedisLayer) dispatch(events <-chan interface{}) {
	defer l.wg.Done()

	for event := range events {
		switch msg := event.(type) {
		case *redis.Subscription:
			if msg.Kind == subscriptionKindSubscribe {
				l.confirm(msg.Channel)
			}
		case *redis.Message:
			l.deliver(msg)
		}
	}
}

// confirm marks a group live once every subscribe written for its channel is
// acknowledged. An ack left over from an earlier subscription of the same channel
// therefore cannot mark a newer one live early.
func (l *RedisLayer) confirm(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inflight[channel] > 0 {
		l.inflight[channel]--
	}
	if l.inflight[channel] > 0 {
		return
	}
	delete(l.inflight, channel)

	if g, ok := l.groups[strings.TrimPrefix(channel, constant.GroupChannelPrefix)]; ok {
		g.markLive()
	}
}

func (l *RedisLayer) deliver(msg *redis.Message) {
	group := strings.TrimPrefix(msg.Channel, constant.GroupChannelPrefix)

	var update entity.StockPriceUpdate
	if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
		logrus.WithField("group", group).Warnf("dropping undecodable group message: %v", err)
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	g, ok := l.groups[group]
	if !ok {
		return
	}
	for _, member := range g.members {
		if !member.Deliver(update) {
			metrics.ClientFramesDroppedTotal.Inc()
		}
	}
}
