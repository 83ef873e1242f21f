package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/quote-stream-service/internal/entity"
)

type SubscriptionRepository struct {
	db *sqlx.DB
}

func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// GetLatestByUserID returns the most recently created subscription of a user, or nil when there is none.
func (r *SubscriptionRepository) GetLatestByUserID(ctx context.Context, userID string) (*entity.CustomerSubscription, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From(entity.CustomerSubscription{}.TableName()).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at desc").
		Limit(1)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var subscription entity.CustomerSubscription
	err = r.db.GetContext(ctx, &subscription, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &subscription, nil
}

func (r *SubscriptionRepository) HasValidSubscription(ctx context.Context, userID string) (bool, error) {
	subscription, err := r.GetLatestByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	if subscription == nil {
		return false, nil
	}

	return subscription.IsValid(time.Now().UTC()), nil
}
