package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/alerting"
	"pricewatch/internal/history"
	"pricewatch/internal/market"
	"pricewatch/internal/rules"
	"pricewatch/internal/storage"
)

type scriptedFetcher struct {
	mu     sync.Mutex
	prices map[string][]decimal.Decimal
	errs   map[string]error
	calls  []string
}

func (f *scriptedFetcher) FetchPrice(ctx context.Context, symbol string, kind market.Kind) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := market.SeriesKey(symbol, kind)
	f.calls = append(f.calls, key)
	if err := f.errs[key]; err != nil {
		return decimal.Decimal{}, err
	}
	queue := f.prices[key]
	if len(queue) == 0 {
		return decimal.Decimal{}, errors.New("no scripted price")
	}
	price := queue[0]
	if len(queue) > 1 {
		f.prices[key] = queue[1:]
	}
	return price, nil
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

type memoryAudit struct {
	samples []storage.PriceSampleRecord
	alerts  []storage.AlertRecord
}

func (m *memoryAudit) InsertSample(ctx context.Context, sample storage.PriceSampleRecord) error {
	m.samples = append(m.samples, sample)
	return nil
}

func (m *memoryAudit) ListSamplesBetween(ctx context.Context, symbol, kind string, from, to time.Time) ([]storage.PriceSampleRecord, error) {
	return m.samples, nil
}

func (m *memoryAudit) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

func (m *memoryAudit) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *memoryAudit) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return m.alerts, nil
}

type lockStub struct {
	acquired bool
	released int
}

func (l *lockStub) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type fixture struct {
	svc      *Service
	registry *rules.Registry
	history  *history.Store
	fetcher  *scriptedFetcher
	notifier *recordingNotifier
	audit    *memoryAudit
	clock    *clock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := rules.NewRegistry(rules.Options{MaxRules: 20}, nil, zerolog.Nop())
	store := history.NewStore(history.Options{Now: c.Now}, nil, zerolog.Nop())
	notifier := &recordingNotifier{}
	eval := alerting.NewEvaluator(alerting.Options{Cooldown: 5 * time.Minute, Now: c.Now}, notifier, zerolog.Nop())
	f := &scriptedFetcher{prices: map[string][]decimal.Decimal{}, errs: map[string]error{}}
	audit := &memoryAudit{}

	opts.Now = c.Now
	opts.Samples = audit
	opts.Alerts = audit
	svc := New(nil, reg, f, store, eval, opts, zerolog.Nop())
	return &fixture{svc: svc, registry: reg, history: store, fetcher: f, notifier: notifier, audit: audit, clock: c}
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestProcessCycleDispatchesAlert(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.registry.Add("BTCUSDT", market.Spot, 5, dec("0.5"))
	fx.fetcher.prices[market.SeriesKey("BTCUSDT", market.Spot)] = []decimal.Decimal{dec("100"), dec("100.6")}

	stats, err := fx.svc.ProcessCycle(context.Background(), fx.clock.t)
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if stats.Alerts != 0 {
		t.Fatalf("single sample cannot alert")
	}

	fx.clock.t = fx.clock.t.Add(time.Minute)
	stats, err = fx.svc.ProcessCycle(context.Background(), fx.clock.t)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if stats.Alerts != 1 || len(fx.notifier.notes) != 1 {
		t.Fatalf("expected one alert, got stats %+v notes %d", stats, len(fx.notifier.notes))
	}
	if fx.notifier.notes[0].Direction != "up" {
		t.Fatalf("unexpected direction %q", fx.notifier.notes[0].Direction)
	}
	if len(fx.audit.samples) != 2 || len(fx.audit.alerts) != 1 {
		t.Fatalf("audit mirror incomplete: %d samples %d alerts", len(fx.audit.samples), len(fx.audit.alerts))
	}
	if fx.audit.alerts[0].CycleID != fx.audit.samples[1].CycleID {
		t.Fatalf("alert should carry the cycle id of its sample")
	}
}

func TestProcessCycleSkipsWhenDisabled(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.registry.Add("BTCUSDT", market.Spot, 5, dec("0.5"))
	fx.registry.SetEnabled(false)

	if _, err := fx.svc.ProcessCycle(context.Background(), fx.clock.t); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(fx.fetcher.calls) != 0 {
		t.Fatalf("disabled monitoring must not fetch, got %v", fx.fetcher.calls)
	}
}

func TestProcessCycleFollowsRuleOrderAndSurvivesFetchErrors(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.registry.Add("ETHUSDT", market.Perpetual, 15, dec("1"))
	fx.registry.Add("BTCUSDT", market.Spot, 5, dec("0.5"))
	fx.fetcher.errs[market.SeriesKey("ETHUSDT", market.Perpetual)] = errors.New("timeout")
	fx.fetcher.prices[market.SeriesKey("BTCUSDT", market.Spot)] = []decimal.Decimal{dec("100")}

	stats, err := fx.svc.ProcessCycle(context.Background(), fx.clock.t)
	if err != nil {
		t.Fatalf("partial failure should not fail the cycle: %v", err)
	}
	if stats.FetchFailures != 1 {
		t.Fatalf("expected 1 fetch failure, got %d", stats.FetchFailures)
	}
	want := []string{"ETHUSDT_perpetual", "BTCUSDT_spot"}
	if strings.Join(fx.fetcher.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("fetch order %v, want %v", fx.fetcher.calls, want)
	}
	if len(fx.history.Series("BTCUSDT", market.Spot)) != 1 {
		t.Fatalf("successful fetch should be recorded")
	}
}

func TestProcessCycleAllFetchesFailed(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.registry.Add("BTCUSDT", market.Spot, 5, dec("0.5"))
	fx.fetcher.errs[market.SeriesKey("BTCUSDT", market.Spot)] = errors.New("down")

	if _, err := fx.svc.ProcessCycle(context.Background(), fx.clock.t); err == nil {
		t.Fatalf("expected error when every fetch fails")
	}
}

func TestProcessCycleRespectsAdvisoryLock(t *testing.T) {
	lock := &lockStub{}
	fx := newFixture(t, Options{Locker: lock, LockKey: 7})
	fx.registry.Add("BTCUSDT", market.Spot, 5, dec("0.5"))
	fx.fetcher.prices[market.SeriesKey("BTCUSDT", market.Spot)] = []decimal.Decimal{dec("100")}

	fx.svc.ProcessCycle(context.Background(), fx.clock.t)
	if len(fx.fetcher.calls) != 0 {
		t.Fatalf("cycle must skip when lock is held elsewhere")
	}

	lock.acquired = true
	fx.svc.ProcessCycle(context.Background(), fx.clock.t)
	if len(fx.fetcher.calls) != 1 || lock.released != 1 {
		t.Fatalf("expected one fetch and one release, got %d / %d", len(fx.fetcher.calls), lock.released)
	}
}

type captureSender struct {
	chatID   int64
	text     string
	keyboard [][]string
}

func (c *captureSender) Send(ctx context.Context, chatID int64, text string, keyboard [][]string) error {
	c.chatID, c.text, c.keyboard = chatID, text, keyboard
	return nil
}

func TestAnnounceStartup(t *testing.T) {
	sender := &captureSender{}
	fx := newFixture(t, Options{Announcer: sender, ChatID: 99})
	fx.registry.Add("BTCUSDT", market.Perpetual, 5, dec("0.5"))

	if err := fx.svc.AnnounceStartup(context.Background()); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if sender.chatID != 99 {
		t.Fatalf("wrong chat id %d", sender.chatID)
	}
	if !strings.Contains(sender.text, "1. BTCUSDT (Perpetual) - 5min") || !strings.Contains(sender.text, "🟢 running") {
		t.Fatalf("unexpected startup text: %q", sender.text)
	}
	if len(sender.keyboard) == 0 {
		t.Fatalf("startup message should carry the main menu")
	}
}
