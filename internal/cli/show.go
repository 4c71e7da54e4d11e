package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	showLimit  int
	showAlerts bool
	showItem   int64
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display latest prices, an item's history or recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Alerts: showAlerts,
			ItemID: showItem,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show recent alerts instead of prices")
	showCmd.Flags().Int64Var(&showItem, "item", 0, "Show the snapshot history of one item")
}
