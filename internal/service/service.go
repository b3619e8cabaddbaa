package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/alerting"
	"pricewatch/internal/conversation"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/history"
	"pricewatch/internal/market"
	"pricewatch/internal/metrics"
	"pricewatch/internal/rules"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/storage"
)

// RuleSource is the read side of the rule registry.
type RuleSource interface {
	Enabled() bool
	List() []rules.Rule
}

// PriceHistory records samples and answers windowed-change queries.
type PriceHistory interface {
	Record(symbol string, kind market.Kind, price decimal.Decimal, ts time.Time) bool
	WindowedChange(symbol string, kind market.Kind, windowMinutes int) (history.Change, error)
}

// Evaluator turns a windowed change into an alert decision.
type Evaluator interface {
	Evaluate(ctx context.Context, rule rules.Rule, change history.Change) alerting.Result
}

// Options carry the optional collaborators of the monitor.
type Options struct {
	// Announcer and ChatID receive the startup notification.
	Announcer alerting.Sender
	ChatID    int64
	Samples   storage.SampleStore
	Alerts    storage.AlertStore
	Locker    storage.AdvisoryLocker
	LockKey   int64
	Now       func() time.Time
}

// Service orchestrates fetching, recording and alert evaluation.
type Service struct {
	scheduler *scheduler.Scheduler
	rules     RuleSource
	fetcher   fetcher.PriceFetcher
	history   PriceHistory
	evaluator Evaluator
	opts      Options
	logger    zerolog.Logger
}

// CycleStats summarises one monitor pass.
type CycleStats struct {
	Rules         int
	FetchFailures int
	Insufficient  int
	Alerts        int
}

// New constructs the monitoring service.
func New(sched *scheduler.Scheduler, ruleSource RuleSource, priceFetcher fetcher.PriceFetcher, store PriceHistory, evaluator Evaluator, opts Options, logger zerolog.Logger) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		scheduler: sched,
		rules:     ruleSource,
		fetcher:   priceFetcher,
		history:   store,
		evaluator: evaluator,
		opts:      opts,
		logger:    logger.With().Str("component", "monitor").Logger(),
	}
}

// Run begins the check loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := s.ProcessCycle(ctx, at)
		return err
	})
}

// ProcessCycle 执行一次完整的检查：按规则顺序拉取价格、记录样本并评估告警。
func (s *Service) ProcessCycle(ctx context.Context, at time.Time) (CycleStats, error) {
	enabled := s.rules.Enabled()
	metrics.SetEnabled(enabled)
	if !enabled {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		s.logger.Debug().Msg("monitoring disabled; skip cycle")
		return CycleStats{}, nil
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return CycleStats{}, err
	}
	if !proceed {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		s.logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		return CycleStats{}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	start := time.Now()
	stats, err := s.executeCycle(ctx, uuid.New())
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return stats, err
	}
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	return stats, nil
}

func (s *Service) executeCycle(ctx context.Context, cycleID uuid.UUID) (CycleStats, error) {
	snapshot := s.rules.List()
	metrics.RulesGauge.Set(float64(len(snapshot)))
	stats := CycleStats{Rules: len(snapshot)}
	log := s.logger.With().Str("cycle_id", cycleID.String()).Logger()

	for _, rule := range snapshot {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		price, err := s.fetcher.FetchPrice(ctx, rule.Symbol, rule.Kind)
		if err != nil {
			stats.FetchFailures++
			log.Warn().Err(err).Str("symbol", rule.Symbol).Str("market_kind", string(rule.Kind)).Msg("price fetch failed")
			continue
		}

		observed := s.opts.Now().UTC()
		if !s.history.Record(rule.Symbol, rule.Kind, price, observed) {
			continue
		}
		s.mirrorSample(ctx, log, cycleID, rule, price, observed)

		change, err := s.history.WindowedChange(rule.Symbol, rule.Kind, rule.WindowMinutes)
		if err != nil {
			if errors.Is(err, history.ErrInsufficientData) {
				stats.Insufficient++
				log.Debug().Str("symbol", rule.Symbol).Int("window", rule.WindowMinutes).Msg("no data yet")
				continue
			}
			return stats, fmt.Errorf("windowed change %s: %w", rule.Symbol, err)
		}

		result := s.evaluator.Evaluate(ctx, rule, change)
		if result.Outcome == alerting.Dispatched {
			stats.Alerts++
			s.recordAlert(ctx, log, cycleID, result.Notification)
		}
	}

	log.Info().Int("rules", stats.Rules).
		Int("fetch_failures", stats.FetchFailures).
		Int("alerts", stats.Alerts).
		Msg("cycle complete")

	if stats.Rules > 0 && stats.FetchFailures == stats.Rules {
		return stats, fmt.Errorf("all %d price fetches failed", stats.Rules)
	}
	return stats, nil
}

func (s *Service) mirrorSample(ctx context.Context, log zerolog.Logger, cycleID uuid.UUID, rule rules.Rule, price decimal.Decimal, at time.Time) {
	if s.opts.Samples == nil {
		return
	}
	record := storage.PriceSampleRecord{
		CycleID:    cycleID,
		Symbol:     rule.Symbol,
		MarketKind: string(rule.Kind),
		Price:      price,
		ObservedAt: at,
	}
	if err := s.opts.Samples.InsertSample(ctx, record); err != nil {
		log.Error().Err(err).Str("symbol", rule.Symbol).Msg("failed to mirror sample")
	}
}

func (s *Service) recordAlert(ctx context.Context, log zerolog.Logger, cycleID uuid.UUID, note alerting.Notification) {
	if s.opts.Alerts == nil {
		return
	}
	record := storage.AlertRecord{
		CycleID:       cycleID,
		Symbol:        note.Symbol,
		MarketKind:    string(note.Kind),
		WindowMinutes: note.WindowMinutes,
		StartPrice:    note.StartPrice,
		CurrentPrice:  note.CurrentPrice,
		ChangePct:     note.ChangePct,
		ThresholdPct:  note.ThresholdPct,
		Direction:     note.Direction,
		TriggeredAt:   note.At,
	}
	if _, err := s.opts.Alerts.InsertAlert(ctx, record); err != nil {
		log.Error().Err(err).Str("symbol", note.Symbol).Msg("failed to persist alert record")
	}
}

// AnnounceStartup sends the configured rule list to the operator chat.
func (s *Service) AnnounceStartup(ctx context.Context) error {
	if s.opts.Announcer == nil {
		return nil
	}
	text := StartupMessage(s.rules.List(), s.rules.Enabled())
	if err := s.opts.Announcer.Send(ctx, s.opts.ChatID, text, conversation.MainMenu()); err != nil {
		return fmt.Errorf("send startup notification: %w", err)
	}
	return nil
}

// StartupMessage renders the startup notification.
func StartupMessage(list []rules.Rule, enabled bool) string {
	var b strings.Builder
	b.WriteString("🤖 Price watch started\n\n")
	if len(list) == 0 {
		b.WriteString("No monitoring rules configured.\n")
	} else {
		b.WriteString("📋 Monitoring rules:\n")
		for i, r := range list {
			fmt.Fprintf(&b, "%d. %s\n", i+1, r.String())
		}
	}
	if enabled {
		b.WriteString("\nMonitoring: 🟢 running")
	} else {
		b.WriteString("\nMonitoring: 🔴 stopped")
	}
	return b.String()
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.opts.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.opts.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
