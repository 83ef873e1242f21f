package entity

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

type Holding struct {
	ID           string          `db:"id" json:"id"`
	AccountID    string          `db:"account_id" json:"account_id"`
	InternalID   string          `db:"internal_id" json:"internal_id"`
	ISIN         string          `db:"isin" json:"isin"`
	Company      string          `db:"company" json:"company"`
	Ticker       string          `db:"ticker" json:"ticker"`
	TickerSuffix string          `db:"ticker_suffix" json:"ticker_suffix"`
	ExchangeID   null.String     `db:"exchange_id" json:"exchange_id"`
	Currency     string          `db:"currency" json:"currency"`
	Quantity     decimal.Decimal `db:"quantity" json:"quantity"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

func (h Holding) TableName() string {
	return "holdings"
}

type BrokerAccount struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Broker    string    `db:"broker" json:"broker"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (b BrokerAccount) TableName() string {
	return "broker_accounts"
}

const CustomerSubscriptionStatusActive = "active"

type CustomerSubscription struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	Status     string    `db:"status" json:"status"`
	ValidUntil null.Time `db:"valid_until" json:"valid_until"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

func (c CustomerSubscription) TableName() string {
	return "customer_subscriptions"
}

// IsValid reports whether the subscription entitles its owner to live data at now.
func (c CustomerSubscription) IsValid(now time.Time) bool {
	if c.Status != CustomerSubscriptionStatusActive {
		return false
	}
	if !c.ValidUntil.Valid {
		return true
	}

	return now.Before(c.ValidUntil.Time)
}
