package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/krobus00/quote-stream-service/internal/constant"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/krobus00/quote-stream-service/internal/service/group"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEntitlement struct {
	entitled map[string]bool
	err      error
	calls    int
}

func (f *fakeEntitlement) HasValidSubscription(ctx context.Context, userID string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.entitled[userID], nil
}

type fakeHoldings struct {
	suffixes map[string][]string
	err      error
}

func (f *fakeHoldings) GetTickerSuffixesByUserID(ctx context.Context, userID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.suffixes[userID], nil
}

type fakeGroupLayer struct {
	mu      sync.Mutex
	failOn  map[string]bool
	joined  []string
	left    []string
	members map[string]group.Member
}

func newFakeGroupLayer() *fakeGroupLayer {
	return &fakeGroupLayer{
		failOn:  make(map[string]bool),
		members: make(map[string]group.Member),
	}
}

func (f *fakeGroupLayer) Join(ctx context.Context, name string, member group.Member) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failOn[name] {
		return errors.New("join failed")
	}
	f.joined = append(f.joined, name)
	f.members[name] = member
	return nil
}

func (f *fakeGroupLayer) Leave(ctx context.Context, name string, member group.Member) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.left = append(f.left, name)
	delete(f.members, name)
	return nil
}

func (f *fakeGroupLayer) Joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.joined...)
}

func (f *fakeGroupLayer) Left() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.left...)
}

type sessionFixture struct {
	entitlement *fakeEntitlement
	holdings    *fakeHoldings
	groups      *fakeGroupLayer
	service     *SessionService
}

func newSessionFixture(inboxSize int) *sessionFixture {
	f := &sessionFixture{
		entitlement: &fakeEntitlement{entitled: map[string]bool{"user-1": true}},
		holdings: &fakeHoldings{suffixes: map[string][]string{
			"user-1": {"MSFT", "AAPL", "AAPL"},
		}},
		groups: newFakeGroupLayer(),
	}
	f.service = NewSessionService(f.entitlement, f.holdings, f.groups, inboxSize)

	return f
}

func (f *sessionFixture) subscribed(t *testing.T) *Session {
	t.Helper()

	sess, err := f.service.Admit(context.Background(), entity.User{ID: "user-1", Name: "alice"})
	require.NoError(t, err)
	require.NoError(t, f.service.Accept(sess))
	require.NoError(t, f.service.Subscribe(context.Background(), sess))

	return sess
}

func priceUpdate(stock, price string) entity.StockPriceUpdate {
	return entity.StockPriceUpdate{
		Type:  constant.MessageTypeStockPriceUpdate,
		Stock: stock,
		Price: price,
	}
}

func TestSessionService_Admit_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		user      entity.User
		entErr    error
		wantCalls int
	}{
		{
			name:      "anonymous",
			user:      entity.AnonymousUser,
			wantCalls: 0,
		},
		{
			name:      "no active subscription",
			user:      entity.User{ID: "user-2"},
			wantCalls: 1,
		},
		{
			name:      "entitlement lookup fails",
			user:      entity.User{ID: "user-1"},
			entErr:    errors.New("db down"),
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(0)
			f.entitlement.err = tt.entErr

			sess, err := f.service.Admit(context.Background(), tt.user)

			require.ErrorIs(t, err, ErrNotEntitled)
			require.NotNil(t, sess)
			assert.Equal(t, StateRejected, sess.State())
			assert.Equal(t, tt.wantCalls, f.entitlement.calls)

			assert.ErrorIs(t, f.service.Accept(sess), ErrInvalidTransition)
			f.service.Close(context.Background(), sess)
			assert.Equal(t, StateClosed, sess.State())
			assert.Empty(t, f.groups.Joined())
		})
	}
}

func TestSessionService_Lifecycle(t *testing.T) {
	f := newSessionFixture(0)

	sess, err := f.service.Admit(context.Background(), entity.User{ID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, sess.State())
	assert.NotEmpty(t, sess.ID())

	require.NoError(t, f.service.Accept(sess))
	assert.Equal(t, StateAccepted, sess.State())

	require.NoError(t, f.service.Subscribe(context.Background(), sess))
	assert.Equal(t, StateSubscribed, sess.State())
	assert.Equal(t, []string{"AAPL", "MSFT"}, f.groups.Joined())
	assert.True(t, sess.Joined().Equal(entity.NewSuffixSet("AAPL", "MSFT")))

	f.service.Close(context.Background(), sess)
	assert.Equal(t, StateClosed, sess.State())
	assert.Equal(t, []string{"AAPL", "MSFT"}, f.groups.Left())
	assert.Zero(t, sess.Joined().Len())

	f.service.Close(context.Background(), sess)
	assert.Len(t, f.groups.Left(), 2)
}

func TestSessionService_Subscribe_RequiresAccepted(t *testing.T) {
	f := newSessionFixture(0)
	sess, err := f.service.Admit(context.Background(), entity.User{ID: "user-1"})
	require.NoError(t, err)

	err = f.service.Subscribe(context.Background(), sess)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, f.groups.Joined())
}

func TestSessionService_Subscribe_SkipsFailedJoins(t *testing.T) {
	f := newSessionFixture(0)
	f.groups.failOn["AAPL"] = true

	sess := f.subscribed(t)

	assert.Equal(t, []string{"MSFT"}, f.groups.Joined())
	assert.True(t, sess.Joined().Equal(entity.NewSuffixSet("MSFT")))
}

func TestSessionService_Subscribe_HoldingsError(t *testing.T) {
	f := newSessionFixture(0)
	f.holdings.err = errors.New("db down")
	sess, err := f.service.Admit(context.Background(), entity.User{ID: "user-1"})
	require.NoError(t, err)
	require.NoError(t, f.service.Accept(sess))

	err = f.service.Subscribe(context.Background(), sess)

	require.Error(t, err)
	assert.Equal(t, StateAccepted, sess.State())
	f.service.Close(context.Background(), sess)
	assert.Equal(t, StateClosed, sess.State())
}

func TestSessionService_UserWithoutHoldingsStaysConnected(t *testing.T) {
	f := newSessionFixture(0)
	f.entitlement.entitled["user-3"] = true

	sess, err := f.service.Admit(context.Background(), entity.User{ID: "user-3"})
	require.NoError(t, err)
	require.NoError(t, f.service.Accept(sess))
	require.NoError(t, f.service.Subscribe(context.Background(), sess))

	assert.Equal(t, StateSubscribed, sess.State())
	assert.Empty(t, f.groups.Joined())
}

func TestSession_Deliver(t *testing.T) {
	f := newSessionFixture(1)
	sess := f.subscribed(t)

	assert.True(t, sess.Deliver(priceUpdate("TSLA", "250")))
	assert.True(t, sess.Deliver(priceUpdate("AAPL", "190.12")))
	assert.False(t, sess.Deliver(priceUpdate("MSFT", "410")))

	select {
	case update := <-sess.Updates():
		assert.Equal(t, "AAPL", update.Stock)
		assert.Equal(t, "190.12", update.Price)
	default:
		t.Fatal("expected a queued update")
	}

	f.service.Close(context.Background(), sess)
	assert.True(t, sess.Deliver(priceUpdate("AAPL", "191")))
	select {
	case update := <-sess.Updates():
		t.Fatalf("update delivered after close: %+v", update)
	default:
	}
}

func TestSessionService_ReceivesGroupBroadcasts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	layer := group.NewRedisLayer(client)
	t.Cleanup(func() {
		_ = layer.Close()
	})

	f := newSessionFixture(0)
	f.service = NewSessionService(f.entitlement, f.holdings, layer, 0)
	sess := f.subscribed(t)
	assert.Equal(t, 1, f.service.Active())

	// joined groups are live once Subscribe returns
	require.NoError(t, layer.Send(context.Background(), "AAPL", priceUpdate("AAPL", "190.12")))

	select {
	case update := <-sess.Updates():
		assert.Equal(t, priceUpdate("AAPL", "190.12"), update)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}

	f.service.Close(context.Background(), sess)
	assert.Zero(t, layer.MemberCount("AAPL"))
	assert.Zero(t, f.service.Active())
}
