package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"pricewatch/internal/alerting"
	"pricewatch/internal/domain"
)

// Show prints recent snapshots of one item, or the latest snapshot of every
// item, or with opts.Alerts the recent alert log.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stdout, "no alerts found")
			return nil
		}
		writeAlerts(os.Stdout, alerts)
		return nil
	}

	if opts.ItemID > 0 {
		snaps, err := store.ListRecentSnapshots(ctx, opts.ItemID, opts.Limit)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Fprintln(os.Stdout, "no snapshots found")
			return nil
		}
		writeSnapshots(os.Stdout, snaps)
		return nil
	}

	items, err := store.ListItems(ctx)
	if err != nil {
		return err
	}
	var latest []domain.Snapshot
	for _, item := range items {
		snap, err := store.LatestSnapshot(ctx, item.ID)
		if err != nil {
			return err
		}
		if snap != nil {
			latest = append(latest, *snap)
		}
	}
	if len(latest) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}
	writeSnapshots(os.Stdout, latest)
	return nil
}

func writeSnapshots(out io.Writer, snaps []domain.Snapshot) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tItem\tPrice\tOriginal\tDiscount%\tLow\tSource")
	for _, snap := range snaps {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
			snap.RecordedAt.UTC().Format(time.RFC3339),
			snap.ItemID,
			alerting.FormatPrice(snap.CurrentPrice, ""),
			alerting.FormatPrice(snap.OriginalPrice, ""),
			snap.EffectiveDiscount(),
			alerting.FormatPrice(snap.HistoricalLow, ""),
			sourceLabel(snap.Source),
		)
	}
	writer.Flush()
}

func writeAlerts(out io.Writer, alerts []domain.AlertEvent) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tItem\tTrigger\tPrevious low\tKind")
	for _, ev := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\n",
			ev.CreatedAt.UTC().Format(time.RFC3339),
			ev.ItemID,
			alerting.FormatPrice(ev.TriggerPrice, ""),
			alerting.FormatPrice(ev.PreviousLow, ""),
			color.New(color.FgMagenta).Sprint(string(ev.Kind)),
		)
	}
	writer.Flush()
}

func sourceLabel(src domain.Source) string {
	switch src {
	case domain.SourceNormal:
		return color.New(color.FgGreen).Sprint(string(src))
	case domain.SourceFree:
		return color.New(color.FgHiMagenta).Sprint(string(src))
	case domain.SourceFetchFailed:
		return color.New(color.FgRed).Sprint(string(src))
	default:
		return color.New(color.FgYellow).Sprint(string(src))
	}
}
