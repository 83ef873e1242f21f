package entity

import (
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
)

func TestCustomerSubscription_IsValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name         string
		subscription CustomerSubscription
		want         bool
	}{
		{
			name:         "active without end date",
			subscription: CustomerSubscription{Status: CustomerSubscriptionStatusActive},
			want:         true,
		},
		{
			name: "active until later",
			subscription: CustomerSubscription{
				Status:     CustomerSubscriptionStatusActive,
				ValidUntil: null.TimeFrom(now.Add(time.Hour)),
			},
			want: true,
		},
		{
			name: "active but lapsed",
			subscription: CustomerSubscription{
				Status:     CustomerSubscriptionStatusActive,
				ValidUntil: null.TimeFrom(now),
			},
			want: false,
		},
		{
			name:         "cancelled",
			subscription: CustomerSubscription{Status: "cancelled"},
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.subscription.IsValid(now))
		})
	}
}
