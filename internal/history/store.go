// Package history keeps per-instrument price samples and answers
// windowed-change queries over them.
package history

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/market"
)

// ErrInsufficientData means no sample falls inside the requested window yet.
var ErrInsufficientData = errors.New("history: no data yet")

var hundred = decimal.NewFromInt(100)

const maxWindowMinutes = math.MaxInt64 / int64(time.Minute)

// Sample is one observed price.
type Sample struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// Document is the persisted form of every series keyed by market.SeriesKey.
type Document map[string][]Sample

// Change describes the move of a series over a lookback window.
type Change struct {
	Start     decimal.Decimal
	StartAt   time.Time
	Current   decimal.Decimal
	CurrentAt time.Time
	ChangePct decimal.Decimal
}

// Persister rewrites the full history document.
type Persister interface {
	SaveHistory(doc Document) error
}

// Options tune the store.
type Options struct {
	Retention time.Duration
	Now       func() time.Time
}

// Store owns all price series. Series are append-only; samples older than
// the retention horizon are purged after each insertion into that series.
type Store struct {
	mu        sync.RWMutex
	persistMu sync.Mutex
	series    map[string][]Sample
	retention time.Duration
	now       func() time.Time
	persister Persister
	logger    zerolog.Logger
}

// NewStore constructs an empty store. persister may be nil.
func NewStore(opts Options, persister Persister, logger zerolog.Logger) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{
		series:    make(map[string][]Sample),
		retention: retention,
		now:       now,
		persister: persister,
		logger:    logger.With().Str("component", "history").Logger(),
	}
}

// Restore seeds the store from a persisted document. Malformed keys and
// non-positive prices are dropped, series are ordered and purged.
func (s *Store) Restore(doc Document) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retention)
	total := 0
	for key, samples := range doc {
		if _, _, err := market.ParseSeriesKey(key); err != nil {
			s.logger.Warn().Err(err).Msg("skip persisted series")
			continue
		}
		kept := make([]Sample, 0, len(samples))
		for _, sample := range samples {
			if !sample.Price.IsPositive() || sample.Timestamp.Before(cutoff) {
				continue
			}
			kept = append(kept, sample)
		}
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].Timestamp.Before(kept[j].Timestamp) })
		if len(kept) == 0 {
			continue
		}
		s.series[key] = kept
		total += len(kept)
	}
	return total
}

// Record appends a sample. Non-positive prices are dropped and reported as false.
func (s *Store) Record(symbol string, kind market.Kind, price decimal.Decimal, ts time.Time) bool {
	if !price.IsPositive() {
		s.logger.Warn().Str("symbol", symbol).Str("market_kind", string(kind)).
			Str("price", price.String()).Msg("drop non-positive price")
		return false
	}

	key := market.SeriesKey(symbol, kind)
	s.mu.Lock()
	s.series[key] = append(s.series[key], Sample{Timestamp: ts, Price: price})
	s.purgeLocked(key)
	s.mu.Unlock()

	s.persist()
	return true
}

func (s *Store) purgeLocked(key string) {
	samples := s.series[key]
	cutoff := s.now().Add(-s.retention)
	idx := sort.Search(len(samples), func(i int) bool {
		return !samples[i].Timestamp.Before(cutoff)
	})
	if idx == 0 {
		return
	}
	if idx == len(samples) {
		delete(s.series, key)
		return
	}
	s.series[key] = append([]Sample(nil), samples[idx:]...)
}

// WindowedChange measures the move from the earliest sample inside the window
// to the latest sample. It returns ErrInsufficientData when the window holds
// no sample.
func (s *Store) WindowedChange(symbol string, kind market.Kind, windowMinutes int) (Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := s.series[market.SeriesKey(symbol, kind)]
	if len(samples) == 0 {
		return Change{}, ErrInsufficientData
	}

	// windows beyond the Duration range cover every retained sample
	var cutoff time.Time
	if int64(windowMinutes) < maxWindowMinutes {
		cutoff = s.now().Add(-time.Duration(windowMinutes) * time.Minute)
	}
	var start *Sample
	for i := range samples {
		if !samples[i].Timestamp.Before(cutoff) {
			start = &samples[i]
			break
		}
	}
	if start == nil {
		return Change{}, ErrInsufficientData
	}

	latest := samples[len(samples)-1]
	change := Change{
		Start:     start.Price,
		StartAt:   start.Timestamp,
		Current:   latest.Price,
		CurrentAt: latest.Timestamp,
	}
	if start.Price.IsPositive() {
		change.ChangePct = latest.Price.Sub(start.Price).Div(start.Price).Mul(hundred)
	}
	return change, nil
}

// Series returns a copy of one series.
func (s *Store) Series(symbol string, kind market.Kind) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := s.series[market.SeriesKey(symbol, kind)]
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}

// Snapshot copies every series.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := make(Document, len(s.series))
	for key, samples := range s.series {
		cp := make([]Sample, len(samples))
		copy(cp, samples)
		doc[key] = cp
	}
	return doc
}

func (s *Store) persist() {
	if s.persister == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if err := s.persister.SaveHistory(s.Snapshot()); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist price history")
	}
}
