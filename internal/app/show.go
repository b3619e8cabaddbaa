package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/market"
	"pricewatch/internal/rules"
	"pricewatch/internal/storage"
)

// ShowRules prints the persisted rule set and the monitoring switch.
func (a *App) ShowRules(ctx context.Context, out io.Writer) error {
	state, err := storage.NewRulesFile(a.Config.State.RulesFile).Load()
	if err != nil {
		if errors.Is(err, storage.ErrStateNotFound) {
			fmt.Fprintf(out, "no rule state at %s; defaults apply on first run\n", a.Config.State.RulesFile)
			return nil
		}
		return err
	}
	return writeRulesTable(out, state)
}

func writeRulesTable(out io.Writer, state rules.State) error {
	status := "stopped"
	if state.Enabled {
		status = "running"
	}
	fmt.Fprintf(out, "monitoring: %s\n", status)
	if !state.UpdatedAt.IsZero() {
		fmt.Fprintf(out, "updated:    %s\n", state.UpdatedAt.UTC().Format(time.RFC3339))
	}
	if len(state.Rules) == 0 {
		fmt.Fprintln(out, "no rules configured")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tSymbol\tMarket\tWindow\tThreshold%")
	for i, r := range state.Rules {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%dmin\t%s\n", i+1, r.Symbol, r.Kind.Label(), r.WindowMinutes, r.ThresholdPct.String())
	}
	return writer.Flush()
}

// ShowAlerts prints recent alerts from the audit mirror.
func (a *App) ShowAlerts(ctx context.Context, out io.Writer, opts AlertsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tInstrument\tWindow\tStart\tCurrent\tChange%\tThreshold%\tDirection")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%dmin\t%s\t%s\t%s\t%s\t%s\n",
			alert.TriggeredAt.UTC().Format(time.RFC3339),
			sanitizeInline(market.Display(alert.Symbol, market.Kind(alert.MarketKind))),
			alert.WindowMinutes,
			formatDecimal(alert.StartPrice, 4),
			formatDecimal(alert.CurrentPrice, 4),
			formatDecimal(alert.ChangePct, 2),
			alert.ThresholdPct.String(),
			alert.Direction,
		)
	}

	return writer.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
