// Package market holds the instrument vocabulary shared by the registry, the
// price history and the feed.
package market

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind distinguishes the spot and perpetual venues of a symbol.
type Kind string

const (
	Spot      Kind = "spot"
	Perpetual Kind = "perpetual"
)

// PerpetualMarker is the suffix used in configuration to tag perpetual symbols.
const PerpetualMarker = "_PERP"

// ParseKind maps a configuration or persisted value onto a Kind.
func ParseKind(v string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "spot":
		return Spot, nil
	case "perpetual", "perp", "futures":
		return Perpetual, nil
	}
	return "", fmt.Errorf("unknown market kind %q", v)
}

// UnmarshalJSON normalises aliases such as "futures". Unknown values are kept
// as-is so callers can reject the single entry instead of the whole document.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("market kind: %w", err)
	}
	parsed, err := ParseKind(v)
	if err != nil {
		*k = Kind(v)
		return nil
	}
	*k = parsed
	return nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == Spot || k == Perpetual
}

// Label is the human readable venue name used in chat messages.
func (k Kind) Label() string {
	if k == Perpetual {
		return "Perpetual"
	}
	return "Spot"
}

// ParseInstrument splits "BTCUSDT_PERP" style identifiers into symbol and kind.
// Identifiers without the marker are spot.
func ParseInstrument(raw string) (string, Kind) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if strings.HasSuffix(symbol, PerpetualMarker) {
		return strings.TrimSuffix(symbol, PerpetualMarker), Perpetual
	}
	return symbol, Spot
}

// SeriesKey is the persisted key of a (symbol, kind) price series.
func SeriesKey(symbol string, kind Kind) string {
	return symbol + "_" + string(kind)
}

// ParseSeriesKey reverses SeriesKey.
func ParseSeriesKey(key string) (string, Kind, error) {
	idx := strings.LastIndex(key, "_")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", fmt.Errorf("malformed series key %q", key)
	}
	kind, err := ParseKind(key[idx+1:])
	if err != nil {
		return "", "", err
	}
	return key[:idx], kind, nil
}

// Display renders a symbol with its venue, e.g. "BTCUSDT (Perpetual)".
func Display(symbol string, kind Kind) string {
	return fmt.Sprintf("%s (%s)", symbol, kind.Label())
}
