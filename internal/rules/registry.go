// Package rules owns the monitoring rule set and the global monitoring switch.
package rules

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/market"
)

// Persister writes the whole registry document.
type Persister interface {
	SaveRules(state State) error
}

// Options tune registry behaviour.
type Options struct {
	MaxRules int
	Now      func() time.Time
}

// Registry is the single writer of monitoring rules. Every mutation is
// persisted before the call returns.
type Registry struct {
	mu        sync.RWMutex
	enabled   bool
	rules     []Rule
	maxRules  int
	persister Persister
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRegistry constructs an empty, enabled registry.
func NewRegistry(opts Options, persister Persister, logger zerolog.Logger) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		enabled:   true,
		maxRules:  opts.MaxRules,
		persister: persister,
		now:       now,
		logger:    logger.With().Str("component", "rules").Logger(),
	}
}

// Restore loads a persisted document without writing it back. Invalid and
// duplicate entries are skipped; the capacity limit still applies.
func (r *Registry) Restore(state State) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.enabled = state.Enabled
	r.rules = r.rules[:0]
	seen := make(map[Key]struct{}, len(state.Rules))
	for _, rule := range state.Rules {
		if err := rule.Validate(); err != nil {
			r.logger.Warn().Err(err).Str("symbol", rule.Symbol).Msg("skip invalid persisted rule")
			continue
		}
		if _, dup := seen[rule.Key()]; dup {
			continue
		}
		if r.maxRules > 0 && len(r.rules) >= r.maxRules {
			r.logger.Warn().Int("max_rules", r.maxRules).Msg("persisted rules exceed capacity; truncating")
			break
		}
		seen[rule.Key()] = struct{}{}
		r.rules = append(r.rules, rule)
	}
	return len(r.rules)
}

// Add appends a rule unless its identity exists or the registry is full.
func (r *Registry) Add(symbol string, kind market.Kind, windowMinutes int, threshold decimal.Decimal) (AddResult, error) {
	rule := Rule{Symbol: symbol, Kind: kind, WindowMinutes: windowMinutes, ThresholdPct: threshold}
	if err := rule.Validate(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := rule.Key()
	for _, existing := range r.rules {
		if existing.Key() == key {
			return AlreadyExists, nil
		}
	}
	if r.maxRules > 0 && len(r.rules) >= r.maxRules {
		return CapacityExceeded, nil
	}

	r.rules = append(r.rules, rule)
	r.persistLocked()
	r.logger.Info().Str("symbol", symbol).Str("market_kind", string(kind)).
		Int("window", windowMinutes).Str("threshold_pct", threshold.String()).Msg("rule added")
	return Added, nil
}

// Remove deletes the exact rule, or every rule of the instrument when
// windowMinutes is zero. It reports whether anything was removed.
func (r *Registry) Remove(symbol string, kind market.Kind, windowMinutes int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		match := rule.Symbol == symbol && rule.Kind == kind &&
			(windowMinutes == 0 || rule.WindowMinutes == windowMinutes)
		if !match {
			kept = append(kept, rule)
		}
	}
	removed := len(r.rules) - len(kept)
	if removed == 0 {
		return false
	}

	r.rules = kept
	r.persistLocked()
	r.logger.Info().Str("symbol", symbol).Str("market_kind", string(kind)).
		Int("window", windowMinutes).Int("removed", removed).Msg("rules removed")
	return true
}

// Clear drops every rule and returns how many were removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.rules)
	if n == 0 {
		return 0
	}
	r.rules = nil
	r.persistLocked()
	r.logger.Info().Int("removed", n).Msg("rules cleared")
	return n
}

// SetEnabled flips the global monitoring switch.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled == enabled {
		return
	}
	r.enabled = enabled
	r.persistLocked()
	r.logger.Info().Bool("enabled", enabled).Msg("monitoring switch changed")
}

// Enabled reports the global monitoring switch.
func (r *Registry) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// List returns a copy of the rules in insertion order.
func (r *Registry) List() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Len returns the number of rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Snapshot returns the persisted form of the registry.
func (r *Registry) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stateLocked()
}

func (r *Registry) stateLocked() State {
	rules := make([]Rule, len(r.rules))
	copy(rules, r.rules)
	return State{Enabled: r.enabled, Rules: rules, UpdatedAt: r.now().UTC()}
}

// persistLocked writes the document while the write lock is held so writes
// land in mutation order. Failures leave the in-memory state authoritative.
func (r *Registry) persistLocked() {
	if r.persister == nil {
		return
	}
	if err := r.persister.SaveRules(r.stateLocked()); err != nil {
		r.logger.Error().Err(err).Msg("failed to persist rules")
	}
}
