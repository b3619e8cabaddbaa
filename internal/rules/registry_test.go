package rules

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/market"
)

type recordingPersister struct {
	saves []State
	err   error
}

func (p *recordingPersister) SaveRules(state State) error {
	p.saves = append(p.saves, state)
	return p.err
}

func newTestRegistry(max int) (*Registry, *recordingPersister) {
	p := &recordingPersister{}
	return NewRegistry(Options{MaxRules: max}, p, zerolog.Nop()), p
}

func TestAddIsIdempotentPerIdentity(t *testing.T) {
	reg, p := newTestRegistry(10)
	th := decimal.RequireFromString("0.5")

	res, err := reg.Add("BTCUSDT", market.Spot, 5, th)
	if err != nil || res != Added {
		t.Fatalf("first add should succeed, got %v %v", res, err)
	}
	res, err = reg.Add("BTCUSDT", market.Spot, 5, decimal.NewFromInt(2))
	if err != nil || res != AlreadyExists {
		t.Fatalf("second add should report AlreadyExists, got %v %v", res, err)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 rule, got %d", reg.Len())
	}
	if len(p.saves) != 1 {
		t.Fatalf("only the successful add should persist, got %d saves", len(p.saves))
	}

	res, _ = reg.Add("BTCUSDT", market.Perpetual, 5, th)
	if res != Added {
		t.Fatalf("different market kind is a different identity, got %v", res)
	}
}

func TestAddRejectsAtCapacity(t *testing.T) {
	reg, p := newTestRegistry(2)
	th := decimal.NewFromInt(1)
	reg.Add("BTCUSDT", market.Spot, 5, th)
	reg.Add("BTCUSDT", market.Spot, 15, th)

	res, err := reg.Add("ETHUSDT", market.Spot, 5, th)
	if err != nil || res != CapacityExceeded {
		t.Fatalf("expected CapacityExceeded, got %v %v", res, err)
	}
	if reg.Len() != 2 || len(p.saves) != 2 {
		t.Fatalf("registry should be unchanged, len=%d saves=%d", reg.Len(), len(p.saves))
	}
}

func TestAddValidates(t *testing.T) {
	reg, _ := newTestRegistry(10)
	if _, err := reg.Add("BTCUSDT", market.Spot, 0, decimal.NewFromInt(1)); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("zero window should be invalid, got %v", err)
	}
	if _, err := reg.Add("BTCUSDT", market.Spot, 5, decimal.Zero); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("zero threshold should be invalid, got %v", err)
	}
	if _, err := reg.Add("BTCUSDT", market.Spot, MaxWindowMinutes+1, decimal.NewFromInt(1)); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("window beyond one year should be invalid, got %v", err)
	}
	if _, err := reg.Add("BTCUSDT", market.Spot, MaxWindowMinutes, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("one-year window should be accepted: %v", err)
	}
}

func TestRemoveExactAndWholeInstrument(t *testing.T) {
	reg, p := newTestRegistry(10)
	th := decimal.NewFromInt(1)
	reg.Add("BTCUSDT", market.Spot, 5, th)
	reg.Add("BTCUSDT", market.Spot, 15, th)
	reg.Add("ETHUSDT", market.Spot, 5, th)

	if !reg.Remove("BTCUSDT", market.Spot, 15) {
		t.Fatal("exact remove should report true")
	}
	if reg.Remove("BTCUSDT", market.Spot, 15) {
		t.Fatal("second remove should report false")
	}
	saves := len(p.saves)

	reg.Add("BTCUSDT", market.Spot, 60, th)
	if !reg.Remove("BTCUSDT", market.Spot, 0) {
		t.Fatal("instrument-wide remove should report true")
	}
	list := reg.List()
	if len(list) != 1 || list[0].Symbol != "ETHUSDT" {
		t.Fatalf("only ETHUSDT should remain, got %+v", list)
	}
	if len(p.saves) != saves+2 {
		t.Fatalf("add and remove should each persist once")
	}
}

func TestListKeepsInsertionOrder(t *testing.T) {
	reg, _ := newTestRegistry(10)
	th := decimal.NewFromInt(1)
	reg.Add("SOLUSDT", market.Spot, 5, th)
	reg.Add("BTCUSDT", market.Spot, 5, th)
	reg.Add("ETHUSDT", market.Perpetual, 5, th)

	list := reg.List()
	want := []string{"SOLUSDT", "BTCUSDT", "ETHUSDT"}
	for i, sym := range want {
		if list[i].Symbol != sym {
			t.Fatalf("position %d: want %s got %s", i, sym, list[i].Symbol)
		}
	}

	list[0].Symbol = "MUTATED"
	if reg.List()[0].Symbol != "SOLUSDT" {
		t.Fatal("List must return a copy")
	}
}

func TestSetEnabledPersistsOnChange(t *testing.T) {
	reg, p := newTestRegistry(10)
	if !reg.Enabled() {
		t.Fatal("registry should start enabled")
	}
	reg.SetEnabled(false)
	reg.SetEnabled(false)
	if reg.Enabled() {
		t.Fatal("registry should be disabled")
	}
	if len(p.saves) != 1 || p.saves[0].Enabled {
		t.Fatalf("expected one save with enabled=false, got %+v", p.saves)
	}
}

func TestClear(t *testing.T) {
	reg, _ := newTestRegistry(10)
	reg.Add("BTCUSDT", market.Spot, 5, decimal.NewFromInt(1))
	reg.Add("ETHUSDT", market.Spot, 5, decimal.NewFromInt(1))
	if n := reg.Clear(); n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}
	if reg.Len() != 0 {
		t.Fatal("registry should be empty")
	}
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	reg, p := newTestRegistry(10)
	p.err = errors.New("disk full")
	res, err := reg.Add("BTCUSDT", market.Spot, 5, decimal.NewFromInt(1))
	if err != nil || res != Added {
		t.Fatalf("persistence failure must not fail the mutation, got %v %v", res, err)
	}
	if reg.Len() != 1 {
		t.Fatal("in-memory state should hold the rule")
	}
}

func TestRestoreSkipsInvalidAndDuplicates(t *testing.T) {
	reg, p := newTestRegistry(2)
	th := decimal.NewFromInt(1)
	n := reg.Restore(State{
		Enabled: false,
		Rules: []Rule{
			{Symbol: "BTCUSDT", Kind: market.Spot, WindowMinutes: 5, ThresholdPct: th},
			{Symbol: "BTCUSDT", Kind: market.Spot, WindowMinutes: 5, ThresholdPct: th},
			{Symbol: "ETHUSDT", Kind: market.Spot, WindowMinutes: -1, ThresholdPct: th},
			{Symbol: "ETHUSDT", Kind: market.Perpetual, WindowMinutes: 15, ThresholdPct: th},
			{Symbol: "SOLUSDT", Kind: market.Spot, WindowMinutes: 15, ThresholdPct: th},
		},
	})
	if n != 2 {
		t.Fatalf("expected 2 restored rules, got %d", n)
	}
	if reg.Enabled() {
		t.Fatal("enabled flag should be restored")
	}
	if len(p.saves) != 0 {
		t.Fatal("restore must not persist")
	}
}

func TestDefaultRules(t *testing.T) {
	defaults := DefaultRules(
		[]string{"BTCUSDT_PERP", "ethusdt"},
		[]WindowThreshold{
			{WindowMinutes: 5, ThresholdPct: decimal.RequireFromString("0.5")},
			{WindowMinutes: 60, ThresholdPct: decimal.NewFromInt(2)},
		},
	)
	if len(defaults) != 4 {
		t.Fatalf("expected 4 default rules, got %d", len(defaults))
	}
	if defaults[0].Symbol != "BTCUSDT" || defaults[0].Kind != market.Perpetual {
		t.Fatalf("perp marker not applied: %+v", defaults[0])
	}
	if defaults[2].Symbol != "ETHUSDT" || defaults[2].Kind != market.Spot {
		t.Fatalf("spot default wrong: %+v", defaults[2])
	}
}
