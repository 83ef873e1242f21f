package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeInterest struct {
	mu    sync.Mutex
	set   entity.SuffixSet
	err   error
	calls int
}

func newFakeInterest(suffixes ...string) *fakeInterest {
	return &fakeInterest{set: entity.NewSuffixSet(suffixes...)}
}

func (f *fakeInterest) CurrentInterest(ctx context.Context) (entity.SuffixSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.set.Clone(), nil
}

func (f *fakeInterest) Set(suffixes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.set = entity.NewSuffixSet(suffixes...)
}

func (f *fakeInterest) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakeHeartbeats struct {
	mu      sync.Mutex
	touches map[entity.ComponentID]int
	runIDs  map[entity.ComponentID]string
}

func newFakeHeartbeats() *fakeHeartbeats {
	return &fakeHeartbeats{
		touches: make(map[entity.ComponentID]int),
		runIDs:  make(map[entity.ComponentID]string),
	}
}

func (f *fakeHeartbeats) Touch(ctx context.Context, component entity.ComponentID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.touches[component]++
	return nil
}

func (f *fakeHeartbeats) SetRunID(ctx context.Context, component entity.ComponentID, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runIDs[component] = runID
	return nil
}

func (f *fakeHeartbeats) Touches(component entity.ComponentID) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.touches[component]
}

func (f *fakeHeartbeats) RunID(component entity.ComponentID) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.runIDs[component]
}

type groupSend struct {
	group  string
	update entity.StockPriceUpdate
}

type fakeGroups struct {
	sends chan groupSend
}

func newFakeGroups() *fakeGroups {
	return &fakeGroups{sends: make(chan groupSend, 64)}
}

func (f *fakeGroups) Send(ctx context.Context, group string, update entity.StockPriceUpdate) error {
	f.sends <- groupSend{group: group, update: update}
	return nil
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return mr, client
}

// fakeUpstream is a quote provider that records control frames and pushes whatever
// frames the test queues.
type fakeUpstream struct {
	server   *httptest.Server
	controls chan entity.UpstreamControlFrame
	frames   chan string
	kick     chan struct{}
	conns    atomic.Int32
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	u := &fakeUpstream{
		controls: make(chan entity.UpstreamControlFrame, 64),
		frames:   make(chan string, 64),
		kick:     make(chan struct{}, 1),
	}
	upgrader := websocket.Upgrader{}

	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		u.conns.Add(1)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				var frame entity.UpstreamControlFrame
				if err := conn.ReadJSON(&frame); err != nil {
					return
				}
				u.controls <- frame
			}
		}()

		for {
			select {
			case <-done:
				return
			case <-u.kick:
				return
			case frame := <-u.frames:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(u.server.Close)

	return u
}

func (u *fakeUpstream) URL() string {
	return "ws" + strings.TrimPrefix(u.server.URL, "http")
}

func (u *fakeUpstream) Send(frame string) {
	u.frames <- frame
}

func (u *fakeUpstream) ExpectControls(t *testing.T, n int) []entity.UpstreamControlFrame {
	t.Helper()

	out := make([]entity.UpstreamControlFrame, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case frame := <-u.controls:
			out = append(out, frame)
		case <-timeout:
			t.Fatalf("timed out waiting for control frames, got %d/%d: %+v", len(out), n, out)
		}
	}

	return out
}

func (u *fakeUpstream) ExpectNoControls(t *testing.T) {
	t.Helper()

	select {
	case frame := <-u.controls:
		t.Fatalf("unexpected control frame: %+v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

// runInBackground runs fn until the test ends and exposes its result.
func runInBackground(t *testing.T, fn func(ctx context.Context) error) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		errCh <- fn(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})

	return cancel, errCh
}

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run to return")
	}

	return nil
}

func requireEventually(t *testing.T, condition func() bool) {
	t.Helper()
	require.Eventually(t, condition, 2*time.Second, 10*time.Millisecond)
}

// blockUntil waits until n timers or tickers are waiting on the fake clock.
func blockUntil(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}
