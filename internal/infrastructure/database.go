package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/quote-stream-service/internal/config"
	"github.com/krobus00/quote-stream-service/internal/metrics"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	defaultConnectTimeout      = 5 * time.Second
	defaultBackoffFactor       = 2.0
	defaultMinJitter           = 100 * time.Millisecond
	defaultMaxJitter           = 1 * time.Second
	defaultMaxIdleConns        = 10
	defaultMaxOpenConns        = 100
	defaultConnLifetime        = 1 * time.Hour
	defaultHealthCheckInterval = 15 * time.Second
)

var ErrPostgresNotChecked = errors.New("postgres health not checked yet")

// postgresSettings is DatabaseConfig with every unset knob replaced by its default.
type postgresSettings struct {
	connectTimeout  time.Duration
	maxRetry        int
	backoffFactor   float64
	minJitter       time.Duration
	maxJitter       time.Duration
	maxIdleConns    int
	maxOpenConns    int
	maxConnLifetime time.Duration
	maxConnIdleTime time.Duration
}

func newPostgresSettings(cfg config.DatabaseConfig) postgresSettings {
	s := postgresSettings{
		connectTimeout:  cfg.PingInterval,
		maxRetry:        max(cfg.MaxRetry, 0),
		backoffFactor:   cfg.ReconnectFactor,
		minJitter:       cfg.MinJitter,
		maxJitter:       cfg.MaxJitter,
		maxIdleConns:    cfg.MaxIdleConns,
		maxOpenConns:    cfg.MaxActiveConns,
		maxConnLifetime: cfg.MaxConnLifetime,
		maxConnIdleTime: cfg.PingInterval,
	}

	if s.connectTimeout <= 0 {
		s.connectTimeout = defaultConnectTimeout
	}
	if s.backoffFactor < 1 {
		s.backoffFactor = defaultBackoffFactor
	}
	if s.minJitter <= 0 {
		s.minJitter = defaultMinJitter
	}
	if s.maxJitter <= 0 {
		s.maxJitter = defaultMaxJitter
	}
	if s.maxJitter < s.minJitter {
		s.maxJitter = s.minJitter
	}
	if s.maxIdleConns <= 0 {
		s.maxIdleConns = defaultMaxIdleConns
	}
	if s.maxOpenConns <= 0 {
		s.maxOpenConns = defaultMaxOpenConns
	}
	if s.maxConnLifetime <= 0 {
		s.maxConnLifetime = defaultConnLifetime
	}

	return s
}

func (s postgresSettings) apply(db *sqlx.DB) {
	db.SetMaxIdleConns(s.maxIdleConns)
	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetConnMaxLifetime(s.maxConnLifetime)
	if s.maxConnIdleTime > 0 {
		db.SetConnMaxIdleTime(s.maxConnIdleTime)
	}
}

// NewPostgresConnection connects to the holdings and subscriptions database,
// retrying with jittered backoff until cfg.MaxRetry extra attempts are spent.
func NewPostgresConnection(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database dsn is required")
	}

	settings := newPostgresSettings(cfg)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	logger := logrus.WithField("postgres_dsn", maskDSN(cfg.DSN))

	var lastErr error
	for attempt := 0; attempt <= settings.maxRetry; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, settings.connectTimeout)
		db, err := sqlx.ConnectContext(attemptCtx, "postgres", cfg.DSN)
		cancel()
		if err == nil {
			settings.apply(db)
			logger.WithFields(logrus.Fields{
				"attempt":           attempt + 1,
				"max_idle_conns":    settings.maxIdleConns,
				"max_active_conns":  settings.maxOpenConns,
				"max_conn_lifetime": settings.maxConnLifetime,
			}).Info("postgres connection established")
			metrics.PostgresUp.Set(1)

			return db, nil
		}

		lastErr = err
		if attempt == settings.maxRetry {
			break
		}

		wait := backoffWithJitter(attempt, settings.backoffFactor, settings.minJitter, settings.maxJitter, rng)
		logger.WithFields(logrus.Fields{
			"attempt":   attempt + 1,
			"max_retry": settings.maxRetry,
			"retry_in":  wait.String(),
		}).Warnf("postgres connection failed: %v", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	metrics.PostgresUp.Set(0)
	return nil, fmt.Errorf("connect postgres after %d attempts: %w", settings.maxRetry+1, lastErr)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// PostgresHealth keeps the outcome of the latest background ping so readiness
// checks do not hit the database on every request.
type PostgresHealth struct {
	mu        sync.RWMutex
	err       error
	checkedAt time.Time
}

// Err returns nil while the latest ping succeeded.
func (h *PostgresHealth) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.err
}

func (h *PostgresHealth) CheckedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.checkedAt
}

func (h *PostgresHealth) record(err error, at time.Time) {
	h.mu.Lock()
	previous := h.err
	h.err = err
	h.checkedAt = at
	h.mu.Unlock()

	if err != nil {
		metrics.PostgresUp.Set(0)
		metrics.PostgresHealthCheckFailuresTotal.Inc()
		logrus.Errorf("postgres health check failed: %v", err)
		return
	}

	metrics.PostgresUp.Set(1)
	if previous != nil {
		logrus.Info("postgres health check recovered")
	}
}

func (h *PostgresHealth) check(ctx context.Context, db Pinger, timeout time.Duration) {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := db.PingContext(pingCtx)
	if ctx.Err() != nil {
		// shutting down; keep the last real result
		return
	}
	h.record(err, time.Now())
}

// StartPostgresHealthCheck pings db once right away and then every interval until
// ctx is done. A non-positive interval falls back to the default.
func StartPostgresHealthCheck(ctx context.Context, db Pinger, interval time.Duration) *PostgresHealth {
	health := &PostgresHealth{err: ErrPostgresNotChecked}
	if db == nil {
		health.err = errors.New("postgres connection is nil")
		return health
	}
	if interval <= 0 {
		interval = defaultHealthCheckInterval
	}

	health.check(ctx, db, interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				health.check(ctx, db, interval)
			}
		}
	}()

	return health
}

// backoffWithJitter grows min by factor per attempt, caps it at max and adds a
// random jitter in [0, max-min]. The result never exceeds max.
func backoffWithJitter(attempt int, factor float64, min, max time.Duration, rng *rand.Rand) time.Duration {
	backoff := float64(min) * math.Pow(factor, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}

	base := time.Duration(backoff)
	if max <= min {
		return base
	}

	jitter := time.Duration(rng.Int63n(int64(max-min) + 1))
	if base+jitter > max {
		return max
	}

	return base + jitter
}

// maskDSN hides the credentials of a url style dsn.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at == -1 {
		return dsn
	}

	scheme := strings.Index(dsn[:at], "://")
	if scheme == -1 {
		return "***" + dsn[at:]
	}

	return dsn[:scheme+3] + "***" + dsn[at:]
}
