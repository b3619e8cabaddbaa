package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/alerting"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/history"
	"pricewatch/internal/market"
	"pricewatch/internal/rules"
	"pricewatch/internal/service"
)

// SimulateAlert 用给定的起始价和当前价走一遍完整的检查流程，并把告警发到配置的聊天。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (alerting.Outcome, error) {
	if err := opts.validate(); err != nil {
		return 0, err
	}
	kind, err := market.ParseKind(opts.Kind)
	if err != nil {
		return 0, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(opts.Symbol))

	bot, err := a.newTelegram()
	if err != nil {
		return 0, err
	}
	if bot == nil {
		return 0, errors.New("telegram 未启用，无法发送模拟告警")
	}
	notifier := alerting.NewChatNotifier(bot, a.Config.Telegram.ChatID, a.Logger)

	registry := rules.NewRegistry(rules.Options{}, nil, a.Logger)
	if _, err := registry.Add(symbol, kind, opts.WindowMinutes, opts.ThresholdPct); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	clock := func() time.Time { return now }
	store := history.NewStore(history.Options{Retention: a.Config.Monitor.Retention, Now: clock}, nil, a.Logger)
	half := time.Duration(opts.WindowMinutes) * time.Minute / 2
	store.Record(symbol, kind, opts.StartPrice, now.Add(-half))

	recorder := &outcomeRecorder{inner: a.newEvaluator(notifier, clock)}
	svc := service.New(nil, registry, &staticFetcher{price: opts.CurrentPrice}, store, recorder, service.Options{Now: clock}, a.Logger)
	if _, err := svc.ProcessCycle(ctx, now); err != nil {
		return 0, fmt.Errorf("simulate cycle: %w", err)
	}
	return recorder.last, nil
}

type staticFetcher struct {
	price decimal.Decimal
}

func (s *staticFetcher) FetchPrice(ctx context.Context, symbol string, kind market.Kind) (decimal.Decimal, error) {
	return s.price, nil
}

type outcomeRecorder struct {
	inner service.Evaluator
	last  alerting.Outcome
}

func (o *outcomeRecorder) Evaluate(ctx context.Context, rule rules.Rule, change history.Change) alerting.Result {
	res := o.inner.Evaluate(ctx, rule, change)
	o.last = res.Outcome
	return res
}

var (
	_ fetcher.PriceFetcher = (*staticFetcher)(nil)
	_ service.Evaluator    = (*outcomeRecorder)(nil)
)
