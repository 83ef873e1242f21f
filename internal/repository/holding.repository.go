package repository

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/quote-stream-service/internal/entity"
)

type HoldingRepository struct {
	db *sqlx.DB
}

func NewHoldingRepository(db *sqlx.DB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

// GetDistinctTickerSuffixes returns every ticker suffix held by at least one account.
func (r *HoldingRepository) GetDistinctTickerSuffixes(ctx context.Context) ([]string, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("DISTINCT ticker_suffix").
		From(entity.Holding{}.TableName()).
		Where(sq.NotEq{"ticker_suffix": ""}).
		OrderBy("ticker_suffix")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var suffixes []string
	err = r.db.SelectContext(ctx, &suffixes, query, args...)
	if err != nil {
		return nil, err
	}

	return compactSuffixes(suffixes), nil
}

// GetTickerSuffixesByUserID returns the ticker suffixes held across all of a user's broker accounts.
func (r *HoldingRepository) GetTickerSuffixesByUserID(ctx context.Context, userID string) ([]string, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("DISTINCT h.ticker_suffix").
		From(entity.Holding{}.TableName() + " h").
		Join(entity.BrokerAccount{}.TableName() + " ba ON ba.id = h.account_id").
		Where(sq.Eq{"ba.user_id": userID}).
		Where(sq.NotEq{"h.ticker_suffix": ""}).
		OrderBy("h.ticker_suffix")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var suffixes []string
	err = r.db.SelectContext(ctx, &suffixes, query, args...)
	if err != nil {
		return nil, err
	}

	return compactSuffixes(suffixes), nil
}

func compactSuffixes(suffixes []string) []string {
	out := suffixes[:0]
	for _, suffix := range suffixes {
		suffix = strings.TrimSpace(suffix)
		if suffix == "" {
			continue
		}
		out = append(out, suffix)
	}

	return out
}
