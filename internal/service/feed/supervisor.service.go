package feed

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/krobus00/quote-stream-service/internal/metrics"
	"github.com/sirupsen/logrus"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	defaultSupervisorInterval = 10 * time.Second
	defaultStalenessThreshold = 30 * time.Second
)

type ComponentRunner interface {
	Start(component entity.ComponentID) (string, error)
	Terminate(runID string) error
}

// StatusReporter receives the liveness verdict per component, e.g. a grpc health server.
type StatusReporter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

type SupervisorConfig struct {
	Interval           time.Duration
	StalenessThreshold time.Duration
	Components         []entity.ComponentID
}

type SupervisorService struct {
	cfg      SupervisorConfig
	store    HeartbeatReader
	runner   ComponentRunner
	reporter StatusReporter
	clock    clockwork.Clock
}

func NewSupervisorService(cfg SupervisorConfig, store HeartbeatReader, runner ComponentRunner) *SupervisorService {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSupervisorInterval
	}
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = defaultStalenessThreshold
	}
	if len(cfg.Components) == 0 {
		cfg.Components = []entity.ComponentID{entity.ComponentFeedReceiver, entity.ComponentFeedDistributor}
	}

	return &SupervisorService{
		cfg:    cfg,
		store:  store,
		runner: runner,
		clock:  clockwork.NewRealClock(),
	}
}

func (s *SupervisorService) WithClock(clock clockwork.Clock) *SupervisorService {
	s.clock = clock
	return s
}

func (s *SupervisorService) WithStatusReporter(reporter StatusReporter) *SupervisorService {
	s.reporter = reporter
	return s
}

func (s *SupervisorService) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"interval":  s.cfg.Interval.String(),
		"threshold": s.cfg.StalenessThreshold.String(),
	}).Info("supervisor started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.Check(ctx)
		}
	}
}

// Check inspects every supervised component once and restarts the stale ones.
func (s *SupervisorService) Check(ctx context.Context) {
	for _, component := range s.cfg.Components {
		if ctx.Err() != nil {
			return
		}
		s.checkComponent(ctx, component)
	}
}

func (s *SupervisorService) checkComponent(ctx context.Context, component entity.ComponentID) {
	logger := logrus.WithField("component", component)

	lastSeen, found, err := s.store.LastSeen(ctx, component)
	if err != nil {
		logger.Errorf("failed to read heartbeat: %v", err)
		return
	}

	if found {
		age := s.clock.Since(lastSeen)
		metrics.ComponentHeartbeatAge.WithLabelValues(component.String()).Set(age.Seconds())
		if age <= s.cfg.StalenessThreshold {
			s.report(component, healthpb.HealthCheckResponse_SERVING)
			return
		}
		logger.WithField("age", age.String()).Warn("heartbeat is stale, restarting component")
	} else {
		logger.Warn("heartbeat is missing, restarting component")
	}

	s.report(component, healthpb.HealthCheckResponse_NOT_SERVING)
	s.restart(ctx, component, logger)
}

func (s *SupervisorService) restart(ctx context.Context, component entity.ComponentID, logger *logrus.Entry) {
	runID, found, err := s.store.GetRunID(ctx, component)
	if err != nil {
		logger.Errorf("failed to read run id: %v", err)
	}
	if found {
		if err := s.runner.Terminate(runID); err != nil {
			logger.WithField("run_id", runID).Errorf("failed to terminate run: %v", err)
		}
	}

	// restart grace: the fresh run owns the heartbeat from here on
	if err := s.store.Touch(ctx, component); err != nil {
		logger.Warnf("failed to reset heartbeat: %v", err)
	}

	newRunID, err := s.runner.Start(component)
	if err != nil {
		logger.Errorf("failed to start component: %v", err)
		return
	}

	metrics.ComponentRestartsTotal.WithLabelValues(component.String()).Inc()
	logger.WithField("run_id", newRunID).Info("component restarted")
}

func (s *SupervisorService) report(component entity.ComponentID, status healthpb.HealthCheckResponse_ServingStatus) {
	if s.reporter == nil {
		return
	}
	s.reporter.SetServingStatus(component.String(), status)
}
