package metrics

import (
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv, err := Serve("127.0.0.1:0", zerolog.Nop())
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer srv.Close()

	AlertsTotal.WithLabelValues("dispatched").Inc()

	resp, err := http.Get("http://" + srv.Addr + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "pricewatch_alert_evaluations_total") {
		t.Fatalf("scrape output missing alert counter")
	}

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "pricewatch_alert_evaluations_total" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("pricewatch_alert_evaluations_total metric not found")
	}
}

func TestSetEnabled(t *testing.T) {
	SetEnabled(true)
	if v := testutil.ToFloat64(MonitoringEnabled); v != 1 {
		t.Fatalf("expected 1, got %v", v)
	}
	SetEnabled(false)
	if v := testutil.ToFloat64(MonitoringEnabled); v != 0 {
		t.Fatalf("expected 0, got %v", v)
	}
}

func TestServeReportsBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	if _, err := Serve(ln.Addr().String(), zerolog.Nop()); err == nil {
		t.Fatalf("expected error for an address already in use")
	}
}
