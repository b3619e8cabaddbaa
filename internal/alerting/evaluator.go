// Package alerting decides whether a windowed price change becomes an alert
// and delivers it.
package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/history"
	"pricewatch/internal/metrics"
	"pricewatch/internal/rules"
)

// Outcome is the result of a single evaluation.
type Outcome int

const (
	InvalidData Outcome = iota
	Anomalous
	BelowThreshold
	CoolingDown
	Dispatched
	DeliveryFailed
)

func (o Outcome) String() string {
	switch o {
	case InvalidData:
		return "invalid_data"
	case Anomalous:
		return "anomalous"
	case BelowThreshold:
		return "below_threshold"
	case CoolingDown:
		return "cooling_down"
	case Dispatched:
		return "dispatched"
	case DeliveryFailed:
		return "delivery_failed"
	default:
		return "unknown"
	}
}

// Result carries the outcome and, when one was built, the notification.
type Result struct {
	Outcome      Outcome
	Notification Notification
}

// Options tune the evaluator.
type Options struct {
	Cooldown          time.Duration
	AnomalyCeilingPct decimal.Decimal
	Retries           int
	RetryDelay        time.Duration
	// DirectionAware lets an opposite-direction move through while the
	// same-direction cooldown is still active.
	DirectionAware bool
	Now            func() time.Time
}

type cooldownRecord struct {
	at        time.Time
	changePct decimal.Decimal
}

// Evaluator owns the per-rule cooldown state.
type Evaluator struct {
	opts     Options
	notifier Notifier
	logger   zerolog.Logger

	mu        sync.Mutex
	cooldowns map[rules.Key]cooldownRecord
}

// NewEvaluator constructs an evaluator. A zero anomaly ceiling defaults to 1000%.
func NewEvaluator(opts Options, notifier Notifier, logger zerolog.Logger) *Evaluator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if !opts.AnomalyCeilingPct.IsPositive() {
		opts.AnomalyCeilingPct = decimal.NewFromInt(1000)
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	return &Evaluator{
		opts:      opts,
		notifier:  notifier,
		logger:    logger.With().Str("component", "evaluator").Logger(),
		cooldowns: make(map[rules.Key]cooldownRecord),
	}
}

// Evaluate applies validity, anomaly, threshold and cooldown gates to one
// (rule, change) pair and dispatches an alert when all pass.
func (e *Evaluator) Evaluate(ctx context.Context, rule rules.Rule, change history.Change) Result {
	res := e.evaluate(ctx, rule, change)
	metrics.AlertsTotal.WithLabelValues(res.Outcome.String()).Inc()
	return res
}

func (e *Evaluator) evaluate(ctx context.Context, rule rules.Rule, change history.Change) Result {
	log := e.logger.With().Str("symbol", rule.Symbol).Str("market_kind", string(rule.Kind)).
		Int("window", rule.WindowMinutes).Logger()

	if !change.Start.IsPositive() || !change.Current.IsPositive() {
		log.Debug().Msg("skip evaluation with non-positive prices")
		return Result{Outcome: InvalidData}
	}

	abs := change.ChangePct.Abs()
	if abs.GreaterThan(e.opts.AnomalyCeilingPct) {
		log.Warn().Str("change_pct", change.ChangePct.String()).Msg("anomalous price change ignored")
		return Result{Outcome: Anomalous}
	}

	if abs.LessThan(rule.ThresholdPct) {
		return Result{Outcome: BelowThreshold}
	}

	now := e.opts.Now()
	log.Info().Str("change_pct", change.ChangePct.StringFixed(2)).
		Str("threshold_pct", rule.ThresholdPct.String()).Msg("price move detected")

	if e.coolingDown(rule.Key(), change.ChangePct, now) {
		log.Info().Msg("alert suppressed by cooldown")
		return Result{Outcome: CoolingDown}
	}

	note := Notification{
		Symbol:        rule.Symbol,
		Kind:          rule.Kind,
		WindowMinutes: rule.WindowMinutes,
		StartPrice:    change.Start,
		CurrentPrice:  change.Current,
		ChangePct:     change.ChangePct,
		ThresholdPct:  rule.ThresholdPct,
		Direction:     classifyChange(change.ChangePct),
		At:            now,
	}

	if !e.dispatch(ctx, note, log) {
		return Result{Outcome: DeliveryFailed, Notification: note}
	}

	e.mu.Lock()
	e.cooldowns[rule.Key()] = cooldownRecord{at: now, changePct: change.ChangePct}
	e.mu.Unlock()
	return Result{Outcome: Dispatched, Notification: note}
}

func (e *Evaluator) coolingDown(key rules.Key, changePct decimal.Decimal, now time.Time) bool {
	e.mu.Lock()
	last, ok := e.cooldowns[key]
	e.mu.Unlock()
	if !ok {
		return false
	}
	if now.Sub(last.at) > e.opts.Cooldown {
		return false
	}
	if e.opts.DirectionAware && changePct.Sign() != last.changePct.Sign() {
		return false
	}
	return true
}

// dispatch retries delivery a fixed number of times with a fixed delay.
func (e *Evaluator) dispatch(ctx context.Context, note Notification, log zerolog.Logger) bool {
	if e.notifier == nil {
		log.Warn().Msg("no notifier configured; alert dropped")
		return false
	}
	for attempt := 1; attempt <= e.opts.Retries; attempt++ {
		err := e.notifier.Notify(ctx, note)
		if err == nil {
			return true
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", e.opts.Retries).Msg("alert delivery failed")
		if attempt == e.opts.Retries {
			break
		}
		if !sleepCtx(ctx, e.opts.RetryDelay) {
			break
		}
	}
	log.Error().Msg("alert dropped after retries")
	return false
}

// LastAlert returns the time of the last dispatched alert for key.
func (e *Evaluator) LastAlert(key rules.Key) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.cooldowns[key]
	return rec.at, ok
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
