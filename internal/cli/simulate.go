package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格观测并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOpts.Price < 0 || simulateOpts.Original < 0 {
			return errors.New("--price 与 --original 不能为负数")
		}
		if simulateOpts.Price == 0 && !simulateOpts.Free && !simulateOpts.Unreleased && !simulateOpts.Removed {
			return errors.New("--price 必须大于 0, 或指定 --free/--unreleased/--removed")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateOpts)
	},
}

func init() {
	simulateCmd.Flags().Int64Var(&simulateOpts.ItemID, "item", 0, "被模拟的商品 ID")
	simulateCmd.Flags().Int64Var(&simulateOpts.Price, "price", 0, "当前价格 (最小货币单位)")
	simulateCmd.Flags().Int64Var(&simulateOpts.Original, "original", 0, "原价 (最小货币单位, 默认等于当前价格)")
	simulateCmd.Flags().BoolVar(&simulateOpts.Free, "free", false, "模拟限时免费")
	simulateCmd.Flags().BoolVar(&simulateOpts.Unreleased, "unreleased", false, "模拟尚未发售")
	simulateCmd.Flags().BoolVar(&simulateOpts.Removed, "removed", false, "模拟已下架")
	_ = simulateCmd.MarkFlagRequired("item")
}
