package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"pricewatch/internal/history"
	"pricewatch/internal/market"
	"pricewatch/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Export renders one recorded price series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	symbol := strings.ToUpper(strings.TrimSpace(opts.Symbol))
	if symbol == "" {
		return errors.New("--symbol is required")
	}
	kind, err := market.ParseKind(opts.Kind)
	if err != nil {
		return err
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-a.Config.Monitor.Retention)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	var samples []history.Sample
	if opts.FromDatabase {
		samples, err = a.samplesFromDatabase(ctx, symbol, kind, from, to)
	} else {
		samples, err = a.samplesFromFile(symbol, kind, from, to)
	}
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("symbol", symbol).Str("market_kind", string(kind)).Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, symbol, kind, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, market.Display(symbol, kind), downsampled); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) samplesFromFile(symbol string, kind market.Kind, from, to time.Time) ([]history.Sample, error) {
	doc, err := storage.NewHistoryFile(a.Config.State.HistoryFile).Load()
	if err != nil {
		if errors.Is(err, storage.ErrStateNotFound) {
			return nil, fmt.Errorf("no price history at %s", a.Config.State.HistoryFile)
		}
		return nil, err
	}
	return filterSamples(doc[market.SeriesKey(symbol, kind)], from, to), nil
}

func (a *App) samplesFromDatabase(ctx context.Context, symbol string, kind market.Kind, from, to time.Time) ([]history.Sample, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("database not configured; cannot export")
	}
	defer closeStore()

	records, err := store.ListSamplesBetween(ctx, symbol, string(kind), from, to)
	if err != nil {
		return nil, err
	}
	out := make([]history.Sample, 0, len(records))
	for _, rec := range records {
		out = append(out, history.Sample{Timestamp: rec.ObservedAt, Price: rec.Price})
	}
	return out, nil
}

func filterSamples(samples []history.Sample, from, to time.Time) []history.Sample {
	out := make([]history.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp.Before(from) || !s.Timestamp.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func downsampleSamples(samples []history.Sample, max int) []history.Sample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]history.Sample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path, symbol string, kind market.Kind, samples []history.Sample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "symbol", "market_kind", "price", "change_from_first_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	first := samples[0].Price
	for _, sample := range samples {
		change := sample.Price.Sub(first).Div(first).Mul(hundred)
		record := []string{
			sample.Timestamp.UTC().Format(time.RFC3339),
			symbol,
			string(kind),
			sample.Price.String(),
			formatDecimal(change, 4),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSamplesPNG(path, title string, samples []history.Sample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	prices := make([]float64, len(samples))
	change := make([]float64, len(samples))

	first := samples[0].Price
	for i, sample := range samples {
		x[i] = sample.Timestamp
		prices[i] = sample.Price.InexactFloat64()
		change[i] = sample.Price.Sub(first).Div(first).Mul(hundred).InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Change (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: prices,
			},
			chart.TimeSeries{
				Name:    "Change %",
				XValues: x,
				YValues: change,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
