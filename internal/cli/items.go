package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	itemName       string
	itemPolicy     string
	itemDisabled   bool
	itemNoAlerts   bool
	itemUnreleased bool
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Manage tracked items",
}

var itemsAddCmd = &cobra.Command{
	Use:   "add EXTERNAL_ID",
	Short: "Track an item, or update the one with the same external id",
	Long: `Track an item by its storefront id.

Policies: below:<minor units>, discount:<percent>, sale, none.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := getApp().AddItem(cmd.Context(), app.ItemOptions{
			ExternalID:    args[0],
			DisplayName:   itemName,
			Policy:        itemPolicy,
			Disabled:      itemDisabled,
			NoAlerts:      itemNoAlerts,
			WasUnreleased: itemUnreleased,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "item %d tracks %s (%s)\n", item.ID, item.ExternalID, item.Policy.String())
		return nil
	},
}

var itemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked items",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListItems(cmd.Context())
	},
}

var itemsEnableCmd = &cobra.Command{
	Use:   "enable ITEM_ID",
	Short: "Include an item in sweeps",
	Args:  cobra.ExactArgs(1),
	RunE:  toggleItem(true),
}

var itemsDisableCmd = &cobra.Command{
	Use:   "disable ITEM_ID",
	Short: "Exclude an item from sweeps",
	Args:  cobra.ExactArgs(1),
	RunE:  toggleItem(false),
}

func toggleItem(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid item id %q", args[0])
		}
		return getApp().SetItemEnabled(cmd.Context(), id, enabled)
	}
}

func init() {
	itemsAddCmd.Flags().StringVar(&itemName, "name", "", "Display name")
	itemsAddCmd.Flags().StringVar(&itemPolicy, "policy", "none", "Alert policy")
	itemsAddCmd.Flags().BoolVar(&itemDisabled, "disabled", false, "Add without including it in sweeps")
	itemsAddCmd.Flags().BoolVar(&itemNoAlerts, "no-alerts", false, "Record prices but never alert")
	itemsAddCmd.Flags().BoolVar(&itemUnreleased, "unreleased", false, "Item is not released yet; alert once it is")

	itemsCmd.AddCommand(itemsAddCmd, itemsListCmd, itemsEnableCmd, itemsDisableCmd)
}
