// Package metrics exposes Prometheus instrumentation for the monitor and the bot.
package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	PriceFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricewatch_price_fetches_total", Help: "Price feed requests by market kind and result"},
		[]string{"market_kind", "result"},
	)
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricewatch_alert_evaluations_total", Help: "Alert evaluations by outcome"},
		[]string{"outcome"},
	)
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricewatch_monitor_cycles_total", Help: "Monitor cycles by result"},
		[]string{"result"},
	)
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricewatch_monitor_cycle_duration_seconds",
		Help:    "Duration of a full monitor pass",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
	RulesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pricewatch_rules",
		Help: "Number of configured monitoring rules",
	})
	MonitoringEnabled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pricewatch_monitoring_enabled",
		Help: "1 when the monitor loop is enabled",
	})
	ChatMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricewatch_chat_messages_total", Help: "Inbound chat messages by authorization"},
		[]string{"authorized"},
	)
)

func init() {
	prometheus.MustRegister(PriceFetchesTotal, AlertsTotal, CyclesTotal, CycleDuration, RulesGauge, MonitoringEnabled, ChatMessagesTotal)
}

// Serve binds addr and exposes /metrics in the background. Bind failures are
// returned; errors after startup are logged.
func Serve(addr string, logger zerolog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log := logger.With().Str("component", "metrics").Logger()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("metrics server stopped")
		}
	}()
	return srv, nil
}

// SetEnabled mirrors the monitoring switch into a gauge.
func SetEnabled(enabled bool) {
	if enabled {
		MonitoringEnabled.Set(1)
		return
	}
	MonitoringEnabled.Set(0)
}
