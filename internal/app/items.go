package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"

	"pricewatch/internal/domain"
)

// ItemOptions describe an item to add or update.
type ItemOptions struct {
	ExternalID    string
	DisplayName   string
	Policy        string
	Disabled      bool
	NoAlerts      bool
	WasUnreleased bool
}

// AddItem inserts an item, or updates the one already tracking ExternalID.
func (a *App) AddItem(ctx context.Context, opts ItemOptions) (domain.TrackedItem, error) {
	if opts.ExternalID == "" {
		return domain.TrackedItem{}, fmt.Errorf("external id is required")
	}
	policy, err := domain.ParsePolicy(opts.Policy)
	if err != nil {
		return domain.TrackedItem{}, err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return domain.TrackedItem{}, err
	}
	defer func() { _ = store.Close() }()

	item, err := store.UpsertItem(ctx, domain.TrackedItem{
		ExternalID:    opts.ExternalID,
		DisplayName:   opts.DisplayName,
		Enabled:       !opts.Disabled,
		AlertEnabled:  !opts.NoAlerts,
		Policy:        policy,
		WasUnreleased: opts.WasUnreleased,
	})
	if err != nil {
		return domain.TrackedItem{}, err
	}
	a.Logger.Info().Int64("item_id", item.ID).Str("external_id", item.ExternalID).Msg("item saved")
	return item, nil
}

// SetItemEnabled toggles whether sweeps include the item.
func (a *App) SetItemEnabled(ctx context.Context, id int64, enabled bool) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SetItemEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("item %d: %w", id, err)
	}
	return nil
}

// ListItems prints every tracked item.
func (a *App) ListItems(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	items, err := store.ListItems(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stdout, "no items tracked")
		return nil
	}
	writeItems(os.Stdout, items)
	return nil
}

func writeItems(out io.Writer, items []domain.TrackedItem) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tExternal\tName\tPolicy\tAlerts\tState")
	for _, item := range items {
		alerts := "on"
		if !item.AlertEnabled {
			alerts = "off"
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n",
			item.ID, item.ExternalID, item.DisplayName, item.Policy.String(), alerts, itemState(item))
	}
	writer.Flush()
}

func itemState(item domain.TrackedItem) string {
	switch {
	case !item.Enabled:
		return color.New(color.FgYellow).Sprint("disabled")
	case item.WasUnreleased:
		return color.New(color.FgCyan).Sprint("unreleased")
	default:
		return color.New(color.FgGreen).Sprint("enabled")
	}
}
