package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/market"
)

// ErrInvalidRule is returned when a rule fails basic validation.
var ErrInvalidRule = errors.New("rules: invalid rule")

// MaxWindowMinutes bounds the lookback of a rule to one year.
const MaxWindowMinutes = 365 * 24 * 60

// Rule is a single (instrument, window, threshold) monitoring entry.
type Rule struct {
	Symbol        string          `json:"symbol"`
	Kind          market.Kind     `json:"market_kind"`
	WindowMinutes int             `json:"window"`
	ThresholdPct  decimal.Decimal `json:"threshold"`
}

// UnmarshalJSON also accepts the older "market_type" field ("spot"/"futures").
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	var raw struct {
		plain
		MarketType market.Kind `json:"market_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Rule(raw.plain)
	if r.Kind == "" {
		r.Kind = raw.MarketType
	}
	return nil
}

// Key identifies a rule; at most one rule exists per key.
type Key struct {
	Symbol        string
	Kind          market.Kind
	WindowMinutes int
}

// Key returns the identity of the rule.
func (r Rule) Key() Key {
	return Key{Symbol: r.Symbol, Kind: r.Kind, WindowMinutes: r.WindowMinutes}
}

// Window returns the lookback as a duration.
func (r Rule) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

// Validate checks the structural invariants of a rule.
func (r Rule) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidRule)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown market kind %q", ErrInvalidRule, r.Kind)
	}
	if r.WindowMinutes <= 0 {
		return fmt.Errorf("%w: window must be positive", ErrInvalidRule)
	}
	if r.WindowMinutes > MaxWindowMinutes {
		return fmt.Errorf("%w: window exceeds %d minutes", ErrInvalidRule, MaxWindowMinutes)
	}
	if !r.ThresholdPct.IsPositive() {
		return fmt.Errorf("%w: threshold must be positive", ErrInvalidRule)
	}
	return nil
}

// String renders the rule the way it is shown to the operator.
func (r Rule) String() string {
	return fmt.Sprintf("%s - %dmin (threshold: %s%%)", market.Display(r.Symbol, r.Kind), r.WindowMinutes, r.ThresholdPct.String())
}

// AddResult is the outcome of Registry.Add.
type AddResult int

const (
	Added AddResult = iota
	AlreadyExists
	CapacityExceeded
)

func (a AddResult) String() string {
	switch a {
	case Added:
		return "added"
	case AlreadyExists:
		return "already_exists"
	case CapacityExceeded:
		return "capacity_exceeded"
	default:
		return "unknown"
	}
}

// State is the persisted registry document.
type State struct {
	Enabled   bool      `json:"monitoring_enabled"`
	Rules     []Rule    `json:"monitoring_configs"`
	UpdatedAt time.Time `json:"last_update"`
}

// WindowThreshold pairs a default window with its threshold.
type WindowThreshold struct {
	WindowMinutes int
	ThresholdPct  decimal.Decimal
}

// DefaultRules expands configured default instruments across default windows.
// Symbols carrying the perpetual marker become perpetual rules.
func DefaultRules(symbols []string, windows []WindowThreshold) []Rule {
	out := make([]Rule, 0, len(symbols)*len(windows))
	for _, raw := range symbols {
		symbol, kind := market.ParseInstrument(raw)
		if symbol == "" {
			continue
		}
		for _, w := range windows {
			out = append(out, Rule{
				Symbol:        symbol,
				Kind:          kind,
				WindowMinutes: w.WindowMinutes,
				ThresholdPct:  w.ThresholdPct,
			})
		}
	}
	return out
}
