package interest

import (
	"context"
	"fmt"
	"strings"

	"github.com/krobus00/quote-stream-service/internal/entity"
)

const DefaultSentinelSuffix = "AAPL"

// SuffixSource is the read-only projection of the relational store that lists
// every ticker suffix currently held by at least one user.
type SuffixSource interface {
	GetDistinctTickerSuffixes(ctx context.Context) ([]string, error)
}

type InterestService struct {
	source   SuffixSource
	sentinel string
}

func NewInterestService(source SuffixSource, sentinel string) *InterestService {
	sentinel = strings.TrimSpace(sentinel)
	if sentinel == "" {
		sentinel = DefaultSentinelSuffix
	}

	return &InterestService{
		source:   source,
		sentinel: sentinel,
	}
}

func (s *InterestService) Sentinel() string {
	return s.sentinel
}

// CurrentInterest returns the interest set: every held suffix plus the sentinel,
// which keeps the pipe alive end to end even when nobody holds anything.
func (s *InterestService) CurrentInterest(ctx context.Context) (entity.SuffixSet, error) {
	suffixes, err := s.source.GetDistinctTickerSuffixes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list interest suffixes: %w", err)
	}

	set := entity.NewSuffixSet(suffixes...)
	set.Add(s.sentinel)

	return set, nil
}

// Diff returns what must be added to and removed from current to reach next.
func Diff(current, next entity.SuffixSet) (added, removed entity.SuffixSet) {
	added = make(entity.SuffixSet)
	removed = make(entity.SuffixSet)

	for suffix := range next {
		if !current.Has(suffix) {
			added[suffix] = struct{}{}
		}
	}
	for suffix := range current {
		if !next.Has(suffix) {
			removed[suffix] = struct{}{}
		}
	}

	return added, removed
}

// DeltaFunc applies one side of a reconciliation delta for a single suffix.
type DeltaFunc func(suffix string) error

// Reconcile applies the delta between current and next through add and remove and
// returns the set that was actually reached. A suffix whose add or remove failed
// keeps its previous membership so the next reconciliation derives it again.
func Reconcile(current, next entity.SuffixSet, add, remove DeltaFunc) (entity.SuffixSet, []error) {
	if current.Equal(next) {
		return current.Clone(), nil
	}

	added, removed := Diff(current, next)
	reached := current.Clone()

	var errs []error
	for _, suffix := range added.Sorted() {
		if err := add(suffix); err != nil {
			errs = append(errs, fmt.Errorf("add %s: %w", suffix, err))
			continue
		}
		reached.Add(suffix)
	}
	for _, suffix := range removed.Sorted() {
		if err := remove(suffix); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", suffix, err))
			continue
		}
		reached.Remove(suffix)
	}

	return reached, errs
}
