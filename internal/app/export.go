package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"pricewatch/internal/domain"
)

// Export renders an item's price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.ItemID <= 0 {
		return errors.New("--item is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	item, err := store.GetItem(ctx, opts.ItemID)
	if err != nil {
		return err
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.exportStep())
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snaps, err := store.ListSnapshots(ctx, item.ID, from, to)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		a.Logger.Info().Int64("item_id", item.ID).Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snaps, opts.MaxPoints)
	a.Logger.Info().Int64("item_id", item.ID).Int("total", len(snaps)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, item.Label(), downsampled); err != nil {
			return err
		}
	}

	return nil
}

// exportStep is the assumed spacing between snapshots when no --from is given.
func (a *App) exportStep() time.Duration {
	if a.Config.Scheduler.Interval > 0 {
		return a.Config.Scheduler.Interval
	}
	return time.Hour
}

func downsampleSnapshots(snaps []domain.Snapshot, max int) []domain.Snapshot {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}
	if max == 1 {
		return snaps[len(snaps)-1:]
	}

	result := make([]domain.Snapshot, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snaps []domain.Snapshot) error {
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

	header := []string{"recorded_at", "item_id", "current_price", "original_price", "discount_pct", "is_on_sale", "historical_low", "source"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snaps {
		record := []string{
			snap.RecordedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(snap.ItemID, 10),
			snap.CurrentPrice.String(),
			snap.OriginalPrice.String(),
			strconv.Itoa(snap.EffectiveDiscount()),
			strconv.FormatBool(snap.IsOnSale),
			snap.HistoricalLow.String(),
			string(snap.Source),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeSnapshotsPNG charts price and historical low in major units. Failed
// fetches carry no price and are left out.
func writeSnapshotsPNG(path, title string, snaps []domain.Snapshot) error {
	var (
		x        []time.Time
		current  []float64
		low      []float64
		discount []float64
	)
	for _, snap := range snaps {
		if snap.Source == domain.SourceFetchFailed {
			continue
		}
		x = append(x, snap.RecordedAt)
		current = append(current, snap.CurrentPrice.Shift(-2).InexactFloat64())
		low = append(low, snap.HistoricalLow.Shift(-2).InexactFloat64())
		discount = append(discount, float64(snap.EffectiveDiscount()))
	}
	if len(x) < 2 {
		return errors.New("need at least two priced snapshots to draw a chart")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	priceFormatter := func(v interface{}) string {
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
			Name:           "Discount (%)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: current,
			},
			chart.TimeSeries{
				Name:    "Historical low",
				XValues: x,
				YValues: low,
			},
			chart.TimeSeries{
				Name:    "Discount %",
				XValues: x,
				YValues: discount,
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
