package entity

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

var ErrEmptySuffix = errors.New("ticker suffix is empty")

// SuffixSet is a set of ticker suffixes.
type SuffixSet map[string]struct{}

func NewSuffixSet(suffixes ...string) SuffixSet {
	set := make(SuffixSet, len(suffixes))
	for _, suffix := range suffixes {
		set.Add(suffix)
	}

	return set
}

// Add inserts suffix after trimming; empty suffixes are ignored.
func (s SuffixSet) Add(suffix string) {
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		return
	}
	s[suffix] = struct{}{}
}

func (s SuffixSet) Remove(suffix string) {
	delete(s, suffix)
}

func (s SuffixSet) Has(suffix string) bool {
	_, ok := s[suffix]
	return ok
}

func (s SuffixSet) Len() int {
	return len(s)
}

func (s SuffixSet) Clone() SuffixSet {
	clone := make(SuffixSet, len(s))
	for suffix := range s {
		clone[suffix] = struct{}{}
	}

	return clone
}

func (s SuffixSet) Equal(other SuffixSet) bool {
	if len(s) != len(other) {
		return false
	}
	for suffix := range s {
		if !other.Has(suffix) {
			return false
		}
	}

	return true
}

// Sorted returns the members in lexical order so logs and frames are deterministic.
func (s SuffixSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for suffix := range s {
		out = append(out, suffix)
	}
	sort.Strings(out)

	return out
}

// Price is a decimal price that keeps the exact text it was received with.
type Price struct {
	raw   string
	value decimal.Decimal
}

func ParsePrice(raw string) (Price, error) {
	raw = strings.TrimSpace(raw)
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return Price{}, fmt.Errorf("invalid price %q: %w", raw, err)
	}

	return Price{raw: raw, value: value}, nil
}

func MustParsePrice(raw string) Price {
	price, err := ParsePrice(raw)
	if err != nil {
		panic(err)
	}

	return price
}

func (p Price) String() string {
	return p.raw
}

func (p Price) Decimal() decimal.Decimal {
	return p.value
}

func (p Price) IsZero() bool {
	return p.raw == ""
}

// UnmarshalJSON accepts both a JSON number and a quoted decimal string.
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return errors.New("price is null")
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}

	parsed, err := ParsePrice(raw)
	if err != nil {
		return err
	}
	*p = parsed

	return nil
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.raw)
}

// PricedTick is a single price observation for a ticker, stamped on arrival.
type PricedTick struct {
	Ticker     string    `json:"ticker"`
	Price      Price     `json:"price"`
	ReceivedAt time.Time `json:"received_at"`
}

func (t PricedTick) Validate() error {
	if strings.TrimSpace(t.Ticker) == "" {
		return ErrEmptySuffix
	}
	if t.Price.IsZero() {
		return fmt.Errorf("tick %s has no price", t.Ticker)
	}
	if t.Price.Decimal().IsNegative() {
		return fmt.Errorf("tick %s has negative price %s", t.Ticker, t.Price)
	}

	return nil
}
