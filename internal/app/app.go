package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/alerting"
	"pricewatch/internal/config"
	"pricewatch/internal/conversation"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/history"
	"pricewatch/internal/metrics"
	"pricewatch/internal/rules"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/service"
	"pricewatch/internal/storage"
	"pricewatch/internal/telegram"
	"pricewatch/internal/transport"
	"pricewatch/internal/version"
)

// ErrInterrupted is returned by Run when SIGINT/SIGTERM (or the caller's
// context) stops the service.
var ErrInterrupted = errors.New("interrupted")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// loadRegistry restores the rule registry from the state file, seeding the
// configured defaults when the file is missing or unreadable.
func (a *App) loadRegistry() (*rules.Registry, error) {
	file := storage.NewRulesFile(a.Config.State.RulesFile)
	registry := rules.NewRegistry(rules.Options{MaxRules: a.Config.Monitor.MaxRules}, file, a.Logger)

	state, err := file.Load()
	switch {
	case err == nil:
		n := registry.Restore(state)
		a.Logger.Info().Int("rules", n).Bool("enabled", state.Enabled).Str("path", file.Path()).Msg("rule state restored")
		return registry, nil
	case errors.Is(err, storage.ErrStateNotFound), errors.Is(err, storage.ErrCorruptState):
		if errors.Is(err, storage.ErrCorruptState) {
			a.Logger.Warn().Err(err).Msg("rule state unreadable; falling back to defaults")
		}
	default:
		return nil, err
	}

	windows, err := a.Config.DefaultWindows()
	if err != nil {
		return nil, err
	}
	defaults := rules.DefaultRules(a.Config.Monitor.Defaults.Symbols, windows)
	registry.Restore(rules.State{Enabled: true, Rules: defaults})
	if err := file.SaveRules(registry.Snapshot()); err != nil {
		a.Logger.Error().Err(err).Msg("failed to write default rule state")
	}
	a.Logger.Info().Int("rules", registry.Len()).Msg("default rules loaded")
	return registry, nil
}

// loadHistory restores persisted samples when history persistence is on.
func (a *App) loadHistory(now func() time.Time) *history.Store {
	opts := history.Options{Retention: a.Config.Monitor.Retention, Now: now}
	if !a.Config.State.PersistHistory {
		return history.NewStore(opts, nil, a.Logger)
	}

	file := storage.NewHistoryFile(a.Config.State.HistoryFile)
	store := history.NewStore(opts, file, a.Logger)
	doc, err := file.Load()
	if err != nil {
		if !errors.Is(err, storage.ErrStateNotFound) {
			a.Logger.Warn().Err(err).Msg("price history unreadable; starting empty")
		}
		return store
	}
	n := store.Restore(doc)
	a.Logger.Info().Int("samples", n).Str("path", file.Path()).Msg("price history restored")
	return store
}

func (a *App) newFetcher() (fetcher.PriceFetcher, error) {
	client, err := transport.NewClient(a.Config.Binance.RequestTimeout, a.Config.ProxyURL())
	if err != nil {
		return nil, err
	}
	userAgent := a.Config.Binance.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	return fetcher.NewBinance(fetcher.BinanceOptions{
		SpotBaseURL:    a.Config.Binance.SpotBaseURL,
		FuturesBaseURL: a.Config.Binance.FuturesBaseURL,
		UserAgent:      userAgent,
		Retries:        a.Config.Binance.Retries,
		RetryDelay:     a.Config.Binance.RetryDelay,
	}, client, a.Logger), nil
}

func (a *App) newTelegram() (*telegram.Client, error) {
	if !a.Config.Telegram.Enabled {
		return nil, nil
	}
	// long-poll requests stay open for PollTimeout; leave headroom for the response.
	client, err := transport.NewClient(a.Config.Telegram.PollTimeout+5*time.Second, a.Config.ProxyURL())
	if err != nil {
		return nil, err
	}
	return telegram.NewClient(telegram.Options{
		Token:       a.Config.Telegram.BotToken,
		APIEndpoint: a.Config.Telegram.APIEndpoint,
		HTTPClient:  client,
	}, a.Logger)
}

func (a *App) newEvaluator(notifier alerting.Notifier, now func() time.Time) *alerting.Evaluator {
	return alerting.NewEvaluator(alerting.Options{
		Cooldown:          a.Config.Monitor.Cooldown,
		AnomalyCeilingPct: decimal.NewFromFloat(a.Config.Monitor.AnomalyCeilingPct),
		Retries:           a.Config.Monitor.AlertRetries,
		RetryDelay:        a.Config.Monitor.AlertRetryDelay,
		DirectionAware:    a.Config.Monitor.DirectionAwareCooldown,
		Now:               now,
	}, notifier, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// monitor bundles the collaborators shared by run and run --once.
type monitor struct {
	registry *rules.Registry
	bot      *telegram.Client
	svc      *service.Service
	cleanup  []func()
}

func (m *monitor) close() {
	for i := len(m.cleanup) - 1; i >= 0; i-- {
		m.cleanup[i]()
	}
}

func (a *App) buildMonitor(ctx context.Context) (*monitor, error) {
	registry, err := a.loadRegistry()
	if err != nil {
		return nil, err
	}
	metrics.SetEnabled(registry.Enabled())
	metrics.RulesGauge.Set(float64(registry.Len()))
	historyStore := a.loadHistory(time.Now)

	priceFetcher, err := a.newFetcher()
	if err != nil {
		return nil, err
	}

	bot, err := a.newTelegram()
	if err != nil {
		return nil, err
	}

	m := &monitor{registry: registry, bot: bot}
	svcOpts := service.Options{LockKey: a.Config.Monitor.AdvisoryLockKey}
	var notifier alerting.Notifier
	if bot != nil {
		notifier = alerting.NewChatNotifier(bot, a.Config.Telegram.ChatID, a.Logger)
		if a.Config.Monitor.StartupNotification {
			svcOpts.Announcer = bot
			svcOpts.ChatID = a.Config.Telegram.ChatID
		}
	} else {
		a.Logger.Warn().Msg("telegram disabled; alerts are logged and dropped")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		a.Logger.Info().Msg("database.dsn not configured; audit mirror disabled")
	} else {
		svcOpts.Samples = store
		svcOpts.Alerts = store
		svcOpts.Locker = store
		m.cleanup = append(m.cleanup, closeStore)
	}

	sched := scheduler.New(a.schedulerOptions(), a.Logger)

	evaluator := a.newEvaluator(notifier, time.Now)
	m.svc = service.New(sched, registry, priceFetcher, historyStore, evaluator, svcOpts, a.Logger)
	return m, nil
}

func (a *App) schedulerOptions() scheduler.Options {
	return scheduler.Options{
		Interval:     a.Config.Monitor.CheckInterval,
		ErrorBackoff: a.Config.Monitor.ErrorBackoff,
		AlignToStart: a.Config.Monitor.AlignToInterval,
		StartupDelay: a.Config.Monitor.StartupDelay,
	}
}

// Run executes the monitor loop and the command loop until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m, err := a.buildMonitor(ctx)
	if err != nil {
		return err
	}
	defer m.close()

	if a.Config.Metrics.Addr != "" {
		srv, err := metrics.Serve(a.Config.Metrics.Addr, a.Logger)
		if err != nil {
			return err
		}
		a.Logger.Info().Str("addr", srv.Addr).Msg("metrics endpoint listening")
		defer shutdownServer(srv)
	}

	if err := m.svc.AnnounceStartup(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("startup notification failed")
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return m.svc.Run(gctx)
	})
	if m.bot != nil {
		engine := conversation.NewEngine(conversation.Options{
			AuthorizedChatID: a.Config.Telegram.ChatID,
			MaxRules:         a.Config.Monitor.MaxRules,
		}, m.registry, a.Logger)
		chat := service.NewChatLoop(service.ChatOptions{
			PollTimeout:  a.Config.Telegram.PollTimeout,
			PollPause:    a.Config.Telegram.PollPause,
			ErrorBackoff: a.Config.Telegram.ErrorBackoff,
		}, m.bot, engine, a.Logger)
		group.Go(func() error {
			return chat.Run(gctx)
		})
	}

	a.Logger.Info().Int("rules", m.registry.Len()).Dur("interval", a.Config.Monitor.CheckInterval).Msg("starting monitoring service")
	err = group.Wait()
	if ctx.Err() != nil {
		a.Logger.Info().Msg("monitoring service interrupted")
		return ErrInterrupted
	}
	if err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// RunOnce executes a single monitor cycle without the command loop.
func (a *App) RunOnce(ctx context.Context) (service.CycleStats, error) {
	m, err := a.buildMonitor(ctx)
	if err != nil {
		return service.CycleStats{}, err
	}
	defer m.close()

	stats, err := m.svc.ProcessCycle(ctx, time.Now().UTC())
	if err != nil {
		return stats, err
	}
	a.Logger.Info().
		Int("rules", stats.Rules).
		Int("fetch_failures", stats.FetchFailures).
		Int("insufficient", stats.Insufficient).
		Int("alerts", stats.Alerts).
		Msg("single cycle complete")
	return stats, nil
}

// Prune deletes mirrored samples older than the given age from the audit database.
func (a *App) Prune(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return fmt.Errorf("older-than must be positive")
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; nothing to prune")
	}
	defer closeStore()

	cutoff := time.Now().UTC().Add(-olderThan)
	if err := store.DeleteSamplesBefore(ctx, cutoff); err != nil {
		return err
	}
	a.Logger.Info().Time("cutoff", cutoff).Msg("pruned mirrored price samples")
	return nil
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// ExportOptions hold parameters for exporting a recorded series.
type ExportOptions struct {
	Symbol       string
	Kind         string
	From         *time.Time
	To           *time.Time
	PNGPath      string
	CSVPath      string
	MaxPoints    int
	FromDatabase bool
}

// AlertsOptions configure the alerts command.
type AlertsOptions struct {
	Limit int
}

// SimulateOptions describe a synthetic price move.
type SimulateOptions struct {
	Symbol        string
	Kind          string
	WindowMinutes int
	ThresholdPct  decimal.Decimal
	StartPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
}

func (o SimulateOptions) validate() error {
	if o.WindowMinutes <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if !o.StartPrice.IsPositive() || !o.CurrentPrice.IsPositive() {
		return fmt.Errorf("prices must be positive")
	}
	if !o.ThresholdPct.IsPositive() {
		return fmt.Errorf("threshold must be positive")
	}
	return nil
}

// Migrate applies the SQL files under database.migrations_path.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn is required for migrate")
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := storage.ApplyMigrations(ctx, pool, a.Config.Database.MigrationsPath)
	for _, name := range applied {
		a.Logger.Info().Str("migration", name).Msg("migration applied")
	}
	return err
}
