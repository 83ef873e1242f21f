package feed

import (
	"context"
	"errors"
	"time"

	"github.com/krobus00/quote-stream-service/internal/entity"
)

var (
	ErrReceiverAlreadyRunning = errors.New("feed receiver already running")
	ErrReconnectExhausted     = errors.New("upstream reconnect attempts exhausted")
	ErrChannelClosed          = errors.New("distribution channel closed")
	ErrUnknownComponent       = errors.New("unknown component")
	ErrTerminateTimeout       = errors.New("run did not exit before terminate timeout")
)

type InterestProvider interface {
	CurrentInterest(ctx context.Context) (entity.SuffixSet, error)
}

type HeartbeatWriter interface {
	Touch(ctx context.Context, component entity.ComponentID) error
	SetRunID(ctx context.Context, component entity.ComponentID, runID string) error
}

type HeartbeatReader interface {
	LastSeen(ctx context.Context, component entity.ComponentID) (time.Time, bool, error)
	GetRunID(ctx context.Context, component entity.ComponentID) (string, bool, error)
	Touch(ctx context.Context, component entity.ComponentID) error
}

type Lease interface {
	TryAcquire(ctx context.Context, owner string) (bool, error)
	Renew(ctx context.Context, owner string) error
	Release(ctx context.Context, owner string) error
}

type PriceCache interface {
	SetLastPrice(ctx context.Context, tick entity.PricedTick) error
}

type GroupSender interface {
	Send(ctx context.Context, group string, update entity.StockPriceUpdate) error
}
