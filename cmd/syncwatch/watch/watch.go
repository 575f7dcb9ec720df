package watchcmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roseeng/SyncTrayzor/cmd/syncwatch/cmdutil"
	"github.com/roseeng/SyncTrayzor/cmd/syncwatch/ui"
	"github.com/roseeng/SyncTrayzor/internal/adapter/sqlite"
	"github.com/roseeng/SyncTrayzor/internal/watcher"
)

const healthInterval = time.Second

func Cmd(opts *cmdutil.Options) *cobra.Command {
	var (
		ov        cmdutil.Overrides
		name      string
		noState   bool
		showItems bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print daemon events as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cmdutil.Setup(opts, ov)
			if err != nil {
				return err
			}
			client, err := cmdutil.NewClient(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tracer, shutdownTracer := cmdutil.NewTracer("syncwatch")
			defer func() { _ = shutdownTracer(context.Background()) }()

			watchOpts := []watcher.Option{
				watcher.WithName(name),
				watcher.WithInterval(cfg.PollInterval.Duration),
				watcher.WithErroredInterval(cfg.ErroredInterval.Duration),
				watcher.WithTracer(tracer),
			}
			if !noState {
				store, err := sqlite.OpenDir(cfg.StateDir)
				if err != nil {
					return err
				}
				defer store.Close()
				watchOpts = append(watchOpts, watcher.WithCheckpoint(store.Cursors()))
			}

			w := watcher.New(watcher.Static(client), watchOpts...)
			out := &printer{w: cmd.OutOrStdout()}
			subscribe(w, out, showItems)

			fmt.Fprintln(cmd.ErrOrStderr(), ui.InfoMsg("watching %s", cfg.Address))
			w.Start()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				<-gctx.Done()
				return w.Close()
			})
			g.Go(func() error {
				reportHealth(gctx, w, cmd.ErrOrStderr())
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&ov.Address, "address", "", "Daemon GUI address, overrides the config file")
	cmd.Flags().StringVar(&ov.APIKey, "api-key", "", "Daemon API key, overrides the config file")
	cmd.Flags().StringVar(&name, "name", "event-watcher", "Watcher name used for the stored cursor")
	cmd.Flags().BoolVar(&noState, "no-state", false, "Do not record the cursor in the state database")
	cmd.Flags().BoolVar(&showItems, "items", false, "Also print per-item and download progress events")

	return cmd
}

// printer serializes lines from the dispatch goroutine and health reporter.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) line(l ui.Line) {
	if l.Time.IsZero() {
		l.Time = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, l.String())
}

func subscribe(w *watcher.Watcher, p *printer, items bool) {
	w.OnSyncStateChanged(func(n watcher.SyncStateChanged) { p.line(ui.SyncState(n)) })
	w.OnDeviceConnected(func(n watcher.DeviceConnected) { p.line(ui.DeviceConnected(n)) })
	w.OnDeviceDisconnected(func(n watcher.DeviceDisconnected) { p.line(ui.DeviceDisconnected(n)) })
	w.OnDevicePaused(func(n watcher.DevicePaused) { p.line(ui.DevicePaused(n)) })
	w.OnDeviceResumed(func(n watcher.DeviceResumed) { p.line(ui.DeviceResumed(n)) })
	w.OnDeviceRejected(func(n watcher.DeviceRejected) { p.line(ui.DeviceRejected(n)) })
	w.OnFolderRejected(func(n watcher.FolderRejected) { p.line(ui.FolderRejected(n)) })
	w.OnConfigSaved(func(n watcher.ConfigSaved) { p.line(ui.ConfigSaved(n)) })
	w.OnFolderStatusChanged(func(n watcher.FolderStatusChanged) { p.line(ui.FolderStatus(n)) })
	w.OnFolderErrorsChanged(func(n watcher.FolderErrorsChanged) { p.line(ui.FolderErrors(n)) })
	w.OnStartupComplete(func(n watcher.StartupComplete) { p.line(ui.StartupComplete(n)) })
	w.OnEventsSkipped(func(n watcher.EventsSkipped) { p.line(ui.EventsSkipped(n)) })
	w.OnItemFinished(func(n watcher.ItemFinished) {
		if items || n.Error != "" {
			p.line(ui.ItemFinished(n))
		}
	})
	if items {
		w.OnItemStarted(func(n watcher.ItemStarted) { p.line(ui.ItemStarted(n)) })
		w.OnItemDownloadProgress(func(n watcher.ItemDownloadProgress) { p.line(ui.DownloadProgress(n)) })
	}
}

// reportHealth prints a line when the daemon becomes unreachable and again
// when it comes back.
func reportHealth(ctx context.Context, w *watcher.Watcher, out io.Writer) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	down := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st := w.Status()
		switch {
		case st.Failures > 0 && !down:
			down = true
			fmt.Fprintln(out, ui.WarnMsg("daemon unreachable: %s", st.LastErr))
		case st.Failures == 0 && down:
			down = false
			fmt.Fprintln(out, ui.SuccessMsg("daemon reachable again, resumed at event %d", st.Cursor))
		}
		slog.Debug("watcher status", "cursor", st.Cursor, "pending", st.Pending, "failures", st.Failures)
	}
}
