package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"pricewatch/internal/progress"
	"pricewatch/pkg/client"
)

// Sweep runs a sweep and prints progress until it finishes. With opts.Server set
// the sweep runs on that server; otherwise it runs in this process against the
// configured store.
func (a *App) Sweep(ctx context.Context, opts SweepOptions) error {
	if opts.Poll <= 0 {
		opts.Poll = a.Config.HTTP.PollInterval
	}
	if opts.Server != "" {
		return a.remoteSweep(ctx, opts)
	}
	return a.localSweep(ctx, opts)
}

func (a *App) remoteSweep(ctx context.Context, opts SweepOptions) error {
	cl := client.New(client.Config{BaseURL: opts.Server, Logger: &a.Logger})

	var (
		runID string
		err   error
	)
	if opts.ItemID > 0 {
		runID, err = cl.Refresh(ctx, opts.ItemID)
	} else {
		runID, err = cl.StartSweep(ctx)
	}
	switch {
	case errors.Is(err, client.ErrAlreadyRunning):
		return errors.New("a sweep is already running on the server")
	case errors.Is(err, client.ErrNotFound):
		return fmt.Errorf("item %d not found", opts.ItemID)
	case err != nil:
		return err
	}

	fmt.Fprintf(os.Stdout, "sweep %s started on %s\n", runID, opts.Server)
	final, err := a.follow(ctx, cl, opts)
	if errors.Is(err, context.Canceled) {
		// Interrupted locally: ask the server to stop too.
		cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := cl.Cancel(cancelCtx, runID); cerr != nil && !errors.Is(cerr, client.ErrNotFound) {
			a.Logger.Warn().Err(cerr).Str("run_id", runID).Msg("failed to cancel remote sweep")
		}
		return err
	}
	if err != nil {
		return err
	}
	printSummary(os.Stdout, final)
	return nil
}

func (a *App) localSweep(ctx context.Context, opts SweepOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	c := a.newCache(ctx)
	defer func() { _ = c.Close() }()

	runner := a.newRunner(ctx, store, a.newFetcher(), c, a.newNotifier())

	var runID string
	if opts.ItemID > 0 {
		runID, err = runner.RefreshItem(ctx, opts.ItemID)
	} else {
		runID, err = runner.StartEnabled(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "sweep %s started\n", runID)

	final, err := a.follow(ctx, localSource{runner.Progress}, opts)
	if err != nil {
		runner.Cancel(runID)
	}
	if werr := runner.Wait(context.WithoutCancel(ctx)); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return err
	}
	printSummary(os.Stdout, final)
	return nil
}

// follow polls src until the run reports finished or ctx ends.
func (a *App) follow(ctx context.Context, src progress.Source, opts SweepOptions) (progress.State, error) {
	var final progress.State
	poller := progress.NewPoller(src, progress.PollerOptions{
		Interval: opts.Poll,
		OnUpdate: func(s progress.State) {
			if s.IsRunning {
				printProgress(os.Stdout, s)
			}
		},
		OnDone: func(s progress.State) { final = s },
	}, a.Logger)

	poller.Start(ctx)
	select {
	case <-poller.Done():
	case <-ctx.Done():
		poller.Stop()
		return final, ctx.Err()
	}
	if ctx.Err() != nil {
		return final, ctx.Err()
	}
	return final, nil
}

type localSource struct {
	state func() progress.State
}

func (l localSource) Progress(context.Context) (progress.State, error) {
	return l.state(), nil
}

func printProgress(w io.Writer, s progress.State) {
	eta := "?"
	if s.EstimatedSecondsRemaining != nil {
		eta = fmt.Sprintf("%ds", *s.EstimatedSecondsRemaining)
	}
	fmt.Fprintf(w, "[%d/%d] %s (failed %d, eta %s)\n", s.CompletedCount, s.TotalCount, s.CurrentItemLabel, s.FailedCount, eta)
}

func printSummary(w io.Writer, s progress.State) {
	status := color.New(color.FgGreen).Sprint("done")
	switch {
	case s.Cancelled:
		status = color.New(color.FgYellow).Sprint("cancelled")
	case s.FailedCount > 0:
		status = color.New(color.FgRed).Sprint("done with failures")
	}
	fmt.Fprintf(w, "%s: %d/%d items, %d failed\n", status, s.CompletedCount, s.TotalCount, s.FailedCount)
}
