package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/krobus00/quote-stream-service/internal/entity"
)

const defaultInboxSize = 64

// Session is the server side of one client websocket connection.
type Session struct {
	id   string
	user entity.User

	mu     sync.RWMutex
	state  State
	joined entity.SuffixSet

	inbox chan entity.StockPriceUpdate
}

func newSession(user entity.User, inboxSize int) *Session {
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}

	return &Session{
		id:     uuid.NewString(),
		user:   user,
		state:  StateConnecting,
		joined: entity.NewSuffixSet(),
		inbox:  make(chan entity.StockPriceUpdate, inboxSize),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) User() entity.User {
	return s.user
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Joined returns the suffixes whose groups the session is a member of.
func (s *Session) Joined() entity.SuffixSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.joined.Clone()
}

// Deliver queues update for the client without blocking. Updates for suffixes the
// session never joined, or arriving outside the subscribed state, are ignored.
func (s *Session) Deliver(update entity.StockPriceUpdate) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateSubscribed || !s.joined.Has(update.Stock) {
		return true
	}

	select {
	case s.inbox <- update:
		return true
	default:
		return false
	}
}

func (s *Session) Updates() <-chan entity.StockPriceUpdate {
	return s.inbox
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !canTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to

	return nil
}
