package group

import (
	"errors"

	"github.com/krobus00/quote-stream-service/internal/entity"
)

var (
	ErrLayerClosed = errors.New("group layer closed")
	ErrEmptyGroup  = errors.New("group name is empty")
)

// Member is one local recipient of a broadcast group. Deliver must not block;
// it reports false when the update was dropped.
type Member interface {
	ID() string
	Deliver(update entity.StockPriceUpdate) bool
}
