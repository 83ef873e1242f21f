package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/krobus00/quote-stream-service/internal/metrics"
	"github.com/krobus00/quote-stream-service/internal/service/group"
	"github.com/sirupsen/logrus"
)

const joinTimeout = 5 * time.Second

var ErrNotEntitled = errors.New("user is not entitled to live quotes")

type Entitlement interface {
	HasValidSubscription(ctx context.Context, userID string) (bool, error)
}

type HoldingSource interface {
	GetTickerSuffixesByUserID(ctx context.Context, userID string) ([]string, error)
}

type GroupLayer interface {
	Join(ctx context.Context, group string, member group.Member) error
	Leave(ctx context.Context, group string, member group.Member) error
}

type SessionService struct {
	entitlement Entitlement
	holdings    HoldingSource
	groups      GroupLayer
	inboxSize   int

	active atomic.Int64
}

func NewSessionService(entitlement Entitlement, holdings HoldingSource, groups GroupLayer, inboxSize int) *SessionService {
	return &SessionService{
		entitlement: entitlement,
		holdings:    holdings,
		groups:      groups,
		inboxSize:   inboxSize,
	}
}

// Admit opens a session for user and decides entitlement once. A rejected session
// is returned together with ErrNotEntitled and must still be closed.
func (s *SessionService) Admit(ctx context.Context, user entity.User) (*Session, error) {
	sess := newSession(user, s.inboxSize)

	entitled, err := s.isEntitled(ctx, user)
	if err != nil || !entitled {
		_ = sess.transition(StateRejected)
		metrics.ClientSessionsRejectedTotal.Inc()
		if err != nil {
			return sess, fmt.Errorf("%w: %v", ErrNotEntitled, err)
		}
		return sess, ErrNotEntitled
	}

	return sess, nil
}

// Accept records that the websocket handshake completed.
func (s *SessionService) Accept(sess *Session) error {
	return sess.transition(StateAccepted)
}

// Subscribe computes the user's relevant suffixes once and joins one group per suffix.
func (s *SessionService) Subscribe(ctx context.Context, sess *Session) error {
	if state := sess.State(); state != StateAccepted {
		return fmt.Errorf("%w: subscribe from %s", ErrInvalidTransition, state)
	}

	logger := logrus.WithFields(logrus.Fields{
		"session_id": sess.ID(),
		"user_id":    sess.user.ID,
	})

	suffixes, err := s.holdings.GetTickerSuffixesByUserID(ctx, sess.user.ID)
	if err != nil {
		return fmt.Errorf("load relevant suffixes: %w", err)
	}

	for _, suffix := range entity.NewSuffixSet(suffixes...).Sorted() {
		joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
		err := s.groups.Join(joinCtx, suffix, sess)
		cancel()
		if err != nil {
			logger.WithField("suffix", suffix).Warnf("failed to join group: %v", err)
			continue
		}
		sess.mu.Lock()
		sess.joined.Add(suffix)
		sess.mu.Unlock()
	}

	if err := sess.transition(StateSubscribed); err != nil {
		return err
	}
	s.active.Add(1)
	metrics.ClientSessionsActive.Inc()

	logger.WithField("groups", sess.Joined().Len()).Info("client session subscribed")
	return nil
}

// Close leaves every joined group and moves the session to closed. Safe to call more than once.
func (s *SessionService) Close(ctx context.Context, sess *Session) {
	previous := sess.State()
	if previous == StateClosed {
		return
	}

	for _, suffix := range sess.Joined().Sorted() {
		if err := s.groups.Leave(ctx, suffix, sess); err != nil {
			logrus.WithFields(logrus.Fields{
				"session_id": sess.ID(),
				"suffix":     suffix,
			}).Warnf("failed to leave group: %v", err)
		}
		sess.mu.Lock()
		sess.joined.Remove(suffix)
		sess.mu.Unlock()
	}

	if err := sess.transition(StateClosed); err != nil {
		return
	}
	if previous == StateSubscribed {
		s.active.Add(-1)
		metrics.ClientSessionsActive.Dec()
	}
}

// Active reports how many sessions admitted by s are currently subscribed.
func (s *SessionService) Active() int {
	return int(s.active.Load())
}

func (s *SessionService) isEntitled(ctx context.Context, user entity.User) (bool, error) {
	if user.Anonymous || user.ID == "" {
		return false, nil
	}

	return s.entitlement.HasValidSubscription(ctx, user.ID)
}
