package feed

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/krobus00/quote-stream-service/internal/constant"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/krobus00/quote-stream-service/internal/metrics"
	"github.com/krobus00/quote-stream-service/internal/service/distribution"
	"github.com/krobus00/quote-stream-service/internal/service/interest"
	"github.com/krobus00/quote-stream-service/internal/util"
	"github.com/sirupsen/logrus"
)

const (
	defaultReconcileInterval = 120 * time.Second
	defaultGroupSendTimeout  = 2 * time.Second
)

type DistributorConfig struct {
	ReconcileInterval time.Duration
	SendTimeout       time.Duration
}

// DistributorService bridges the distribution channel to the per-ticker broadcast groups.
type DistributorService struct {
	cfg        DistributorConfig
	channel    distribution.Channel
	interest   InterestProvider
	heartbeats HeartbeatWriter
	groups     GroupSender
	clock      clockwork.Clock
}

func NewDistributorService(cfg DistributorConfig, channel distribution.Channel, interest InterestProvider, heartbeats HeartbeatWriter, groups GroupSender) *DistributorService {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = defaultReconcileInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultGroupSendTimeout
	}

	return &DistributorService{
		cfg:        cfg,
		channel:    channel,
		interest:   interest,
		heartbeats: heartbeats,
		groups:     groups,
		clock:      clockwork.NewRealClock(),
	}
}

func (s *DistributorService) WithClock(clock clockwork.Clock) *DistributorService {
	s.clock = clock
	return s
}

func (s *DistributorService) Run(ctx context.Context, runID string) error {
	logger := logrus.WithFields(logrus.Fields{
		"component": entity.ComponentFeedDistributor,
		"run_id":    runID,
	})

	if err := s.heartbeats.SetRunID(ctx, entity.ComponentFeedDistributor, runID); err != nil {
		logger.Warnf("failed to record run id: %v", err)
	}

	listener, err := s.channel.Listen(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := listener.Close(); err != nil {
			logger.Warnf("failed to close distribution listener: %v", err)
		}
	}()

	subscribed := s.reconcile(ctx, listener, entity.NewSuffixSet(), logger)
	s.touch(ctx, logger)

	ticker := s.clock.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			subscribed = s.reconcile(ctx, listener, subscribed, logger)
			s.touch(ctx, logger)
		case msg, ok := <-listener.Messages():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("distribution channel closed")
				return ErrChannelClosed
			}

			s.touch(ctx, logger)
			if msg.IsTick() {
				s.forward(ctx, *msg.Tick, logger)
			}
		}
	}
}

func (s *DistributorService) forward(ctx context.Context, tick entity.PricedTick, logger *logrus.Entry) {
	update := entity.StockPriceUpdate{
		Type:  constant.MessageTypeStockPriceUpdate,
		Stock: tick.Ticker,
		Price: tick.Price.String(),
	}

	err := util.ProcessWithTimeout(ctx, s.cfg.SendTimeout, update, func(ctx context.Context, update entity.StockPriceUpdate) error {
		return s.groups.Send(ctx, update.Stock, update)
	})
	if err != nil {
		metrics.TicksDistributedTotal.WithLabelValues("failed").Inc()
		logger.WithField("suffix", tick.Ticker).Warnf("failed to send tick to group: %v", err)
		return
	}

	metrics.TicksDistributedTotal.WithLabelValues("sent").Inc()
}

func (s *DistributorService) reconcile(ctx context.Context, listener distribution.Listener, subscribed entity.SuffixSet, logger *logrus.Entry) entity.SuffixSet {
	next, err := s.interest.CurrentInterest(ctx)
	if err != nil {
		logger.Errorf("failed to load interest set: %v", err)
		return subscribed
	}

	reached, errs := interest.Reconcile(subscribed, next, listener.Subscribe, listener.Unsubscribe)
	for _, err := range errs {
		logger.Warnf("distribution subscription change failed: %v", err)
	}

	metrics.SubscriptionSetSize.WithLabelValues(entity.ComponentFeedDistributor.String()).Set(float64(reached.Len()))
	return reached
}

func (s *DistributorService) touch(ctx context.Context, logger *logrus.Entry) {
	if err := s.heartbeats.Touch(ctx, entity.ComponentFeedDistributor); err != nil && ctx.Err() == nil {
		logger.Warnf("failed to touch heartbeat: %v", err)
	}
}
