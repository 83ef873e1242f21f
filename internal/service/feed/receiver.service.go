package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/krobus00/quote-stream-service/internal/metrics"
	"github.com/krobus00/quote-stream-service/internal/service/interest"
	"github.com/sirupsen/logrus"
)

const (
	defaultReconnectAttempts = 3
	defaultReconnectDelay    = 15 * time.Second
	defaultLeaseTTL          = 90 * time.Second
	upstreamWriteWait        = 10 * time.Second
	upstreamInboxSize        = 256
	leaseReleaseTimeout      = 5 * time.Second
)

type ReceiverConfig struct {
	UpstreamURL       string
	UpstreamToken     string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	LeaseTTL          time.Duration
}

type TickPublisher interface {
	PublishTick(ctx context.Context, tick entity.PricedTick) error
	PublishHeartbeat(ctx context.Context) error
}

// ReceiverService owns the single upstream connection of a deployment.
type ReceiverService struct {
	cfg        ReceiverConfig
	interest   InterestProvider
	lease      Lease
	heartbeats HeartbeatWriter
	cache      PriceCache
	publisher  TickPublisher
	dialer     *websocket.Dialer
	clock      clockwork.Clock
}

func NewReceiverService(cfg ReceiverConfig, interest InterestProvider, lease Lease, heartbeats HeartbeatWriter, cache PriceCache, publisher TickPublisher) *ReceiverService {
	if cfg.ReconnectAttempts < 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}

	return &ReceiverService{
		cfg:        cfg,
		interest:   interest,
		lease:      lease,
		heartbeats: heartbeats,
		cache:      cache,
		publisher:  publisher,
		dialer:     websocket.DefaultDialer,
		clock:      clockwork.NewRealClock(),
	}
}

func (s *ReceiverService) WithClock(clock clockwork.Clock) *ReceiverService {
	s.clock = clock
	return s
}

func (s *ReceiverService) WithDialer(dialer *websocket.Dialer) *ReceiverService {
	s.dialer = dialer
	return s
}

type upstreamEvent struct {
	data []byte
	err  error
}

// Run holds the upstream lease for its whole lifetime and keeps one upstream
// connection open, reconnecting a bounded number of times on failure.
func (s *ReceiverService) Run(ctx context.Context, runID string) error {
	logger := logrus.WithFields(logrus.Fields{
		"component": entity.ComponentFeedReceiver,
		"run_id":    runID,
	})

	acquired, err := s.lease.TryAcquire(ctx, runID)
	if err != nil {
		return fmt.Errorf("acquire upstream lease: %w", err)
	}
	if !acquired {
		logger.Error("upstream lease is held by another receiver, refusing to start")
		return ErrReceiverAlreadyRunning
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), leaseReleaseTimeout)
		defer cancel()
		if err := s.lease.Release(releaseCtx, runID); err != nil {
			logger.Errorf("failed to release upstream lease: %v", err)
			return
		}
		logger.Info("upstream lease released")
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go s.keepLease(runCtx, cancel, runID, logger)

	if err := s.heartbeats.SetRunID(runCtx, entity.ComponentFeedReceiver, runID); err != nil {
		logger.Warnf("failed to record run id: %v", err)
	}
	s.touch(runCtx, logger)

	failures := 0
	for {
		if runCtx.Err() != nil {
			return s.exitCause(runCtx)
		}

		connected, err := s.session(runCtx, logger)
		if runCtx.Err() != nil {
			return s.exitCause(runCtx)
		}
		if connected {
			failures = 0
		}

		failures++
		if failures > s.cfg.ReconnectAttempts {
			logger.WithField("attempts", s.cfg.ReconnectAttempts).Errorf("giving up on upstream: %v", err)
			return fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
		}

		metrics.UpstreamReconnectsTotal.Inc()
		logger.WithFields(logrus.Fields{
			"retry_in": s.cfg.ReconnectDelay.String(),
			"attempt":  failures,
		}).Warnf("upstream connection lost: %v", err)

		select {
		case <-s.clock.After(s.cfg.ReconnectDelay):
		case <-runCtx.Done():
			return s.exitCause(runCtx)
		}
	}
}

// session runs one upstream connection until it fails or ctx is done. connected
// reports whether the dial succeeded.
func (s *ReceiverService) session(ctx context.Context, logger *logrus.Entry) (connected bool, err error) {
	target, err := s.upstreamURL()
	if err != nil {
		return false, err
	}

	logger.Infof("connecting to %s", redactToken(target))
	conn, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return false, fmt.Errorf("dial upstream: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	inbox := make(chan upstreamEvent, upstreamInboxSize)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			select {
			case inbox <- upstreamEvent{data: data, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	// a fresh connection starts from an empty upstream subscription set
	subscribed := s.reconcile(ctx, conn, entity.NewSuffixSet(), logger)
	s.touch(ctx, logger)

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(upstreamWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return true, nil
		case event := <-inbox:
			if event.err != nil {
				return true, fmt.Errorf("read upstream: %w", event.err)
			}
			subscribed = s.handleFrame(ctx, conn, subscribed, event.data, logger)
		}
	}
}

func (s *ReceiverService) handleFrame(ctx context.Context, conn *websocket.Conn, subscribed entity.SuffixSet, data []byte, logger *logrus.Entry) entity.SuffixSet {
	s.touch(ctx, logger)

	var frame entity.UpstreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		metrics.UpstreamMalformedFramesTotal.Inc()
		logger.Warnf("dropping malformed upstream frame: %v", err)
		return subscribed
	}
	metrics.UpstreamFramesTotal.WithLabelValues(frame.Type).Inc()

	switch frame.Type {
	case entity.UpstreamFrameTypePing:
		subscribed = s.reconcile(ctx, conn, subscribed, logger)
		if err := s.publisher.PublishHeartbeat(ctx); err != nil {
			logger.Warnf("failed to publish distribution heartbeat: %v", err)
		}
	case entity.UpstreamFrameTypeTrade:
		s.handleTrades(ctx, frame.Data, logger)
	case entity.UpstreamFrameTypeError:
		logger.Warnf("upstream reported an error: %s", frame.Msg)
	default:
		logger.Debugf("ignoring upstream frame type %q", frame.Type)
	}

	return subscribed
}

func (s *ReceiverService) handleTrades(ctx context.Context, trades []entity.UpstreamTrade, logger *logrus.Entry) {
	for _, trade := range trades {
		tick := entity.PricedTick{
			Ticker:     strings.TrimSpace(trade.Symbol),
			Price:      trade.Price,
			ReceivedAt: s.clock.Now().UTC(),
		}
		if err := tick.Validate(); err != nil {
			metrics.UpstreamMalformedFramesTotal.Inc()
			logger.Warnf("dropping invalid trade: %v", err)
			continue
		}

		if err := s.cache.SetLastPrice(ctx, tick); err != nil {
			logger.WithField("suffix", tick.Ticker).Warnf("failed to cache last price: %v", err)
		}
		if err := s.publisher.PublishTick(ctx, tick); err != nil {
			logger.WithField("suffix", tick.Ticker).Warnf("failed to publish tick: %v", err)
		}
	}
}

func (s *ReceiverService) reconcile(ctx context.Context, conn *websocket.Conn, subscribed entity.SuffixSet, logger *logrus.Entry) entity.SuffixSet {
	next, err := s.interest.CurrentInterest(ctx)
	if err != nil {
		logger.Errorf("failed to load interest set: %v", err)
		return subscribed
	}

	reached, errs := interest.Reconcile(subscribed, next,
		func(suffix string) error {
			return s.sendControl(conn, entity.UpstreamControlSubscribe, suffix)
		},
		func(suffix string) error {
			return s.sendControl(conn, entity.UpstreamControlUnsubscribe, suffix)
		},
	)
	for _, err := range errs {
		logger.Warnf("upstream subscription change failed: %v", err)
	}

	metrics.SubscriptionSetSize.WithLabelValues(entity.ComponentFeedReceiver.String()).Set(float64(reached.Len()))
	return reached
}

func (s *ReceiverService) sendControl(conn *websocket.Conn, frameType, suffix string) error {
	payload, err := json.Marshal(entity.UpstreamControlFrame{Type: frameType, Symbol: suffix})
	if err != nil {
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(upstreamWriteWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *ReceiverService) keepLease(ctx context.Context, cancel context.CancelCauseFunc, runID string, logger *logrus.Entry) {
	ticker := s.clock.NewTicker(s.cfg.LeaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			err := s.lease.Renew(ctx, runID)
			if err == nil || ctx.Err() != nil {
				continue
			}
			logger.Errorf("failed to renew upstream lease: %v", err)
			cancel(err)
			return
		}
	}
}

func (s *ReceiverService) touch(ctx context.Context, logger *logrus.Entry) {
	if err := s.heartbeats.Touch(ctx, entity.ComponentFeedReceiver); err != nil && ctx.Err() == nil {
		logger.Warnf("failed to touch heartbeat: %v", err)
	}
}

func (s *ReceiverService) exitCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		return nil
	}

	return cause
}

func (s *ReceiverService) upstreamURL() (string, error) {
	target, err := url.Parse(strings.TrimSpace(s.cfg.UpstreamURL))
	if err != nil {
		return "", fmt.Errorf("invalid upstream url: %w", err)
	}
	if s.cfg.UpstreamToken != "" {
		query := target.Query()
		query.Set("token", s.cfg.UpstreamToken)
		target.RawQuery = query.Encode()
	}

	return target.String(), nil
}

func redactToken(raw string) string {
	target, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := target.Query()
	if query.Has("token") {
		query.Set("token", "xxxxx")
		target.RawQuery = query.Encode()
	}

	return target.String()
}
