package cli

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	sweepServer string
	sweepPoll   time.Duration
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep every enabled item once and follow its progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return getApp().Sweep(ctx, app.SweepOptions{Server: sweepServer, Poll: sweepPoll})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh ITEM_ID",
	Short: "Sweep a single item now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid item id %q", args[0])
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return getApp().Sweep(ctx, app.SweepOptions{Server: sweepServer, Poll: sweepPoll, ItemID: id})
	},
}

func init() {
	for _, c := range []*cobra.Command{sweepCmd, refreshCmd} {
		c.Flags().StringVar(&sweepServer, "server", "", "API base URL of a running instance, e.g. http://localhost:8080/api")
		c.Flags().DurationVar(&sweepPoll, "poll", 0, "Progress poll interval (defaults to http.poll_interval)")
	}
}
