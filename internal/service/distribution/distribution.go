package distribution

import (
	"context"
	"errors"

	"github.com/krobus00/quote-stream-service/internal/entity"
)

var ErrListenerClosed = errors.New("distribution listener closed")

// Channel is the internal fan-out medium between the receiver and the distributor.
// Delivery is at-most-once and there is no replay for late listeners.
type Channel interface {
	PublishTick(ctx context.Context, tick entity.PricedTick) error
	PublishHeartbeat(ctx context.Context) error
	Listen(ctx context.Context) (Listener, error)
}

// Listener receives heartbeats unconditionally and ticks only for the suffixes it
// subscribed to. Messages is closed when the listener or the underlying channel closes.
type Listener interface {
	Subscribe(suffix string) error
	Unsubscribe(suffix string) error
	Messages() <-chan entity.DistributionMessage
	Close() error
}
