package statuscmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roseeng/SyncTrayzor/cmd/syncwatch/cmdutil"
	"github.com/roseeng/SyncTrayzor/cmd/syncwatch/ui"
	"github.com/roseeng/SyncTrayzor/config"
	"github.com/roseeng/SyncTrayzor/internal/adapter/rest"
	"github.com/roseeng/SyncTrayzor/internal/adapter/sqlite"
)

const probeTimeout = 5 * time.Second

// Cmd returns the "syncwatch status" command.
func Cmd(opts *cmdutil.Options) *cobra.Command {
	var (
		ov    cmdutil.Overrides
		probe bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded watcher cursors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cmdutil.Setup(opts, ov)
			if err != nil {
				return err
			}

			store, err := sqlite.OpenDir(cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			cursors, err := store.Cursors().ListCursors(cmd.Context())
			if err != nil {
				return err
			}

			var head int64
			if probe {
				head, err = probeHead(cmd.Context(), cfg)
				if err != nil {
					if rest.IsUnauthorized(err) {
						return fmt.Errorf("daemon rejected the API key: %w", err)
					}
					fmt.Fprintln(cmd.ErrOrStderr(), ui.WarnMsg("probe %s: %v", cfg.Address, err))
				}
			}

			render(cmd.OutOrStdout(), cfg, cursors, head)
			return nil
		},
	}

	cmd.Flags().StringVar(&ov.Address, "address", "", "Daemon GUI address, overrides the config file")
	cmd.Flags().StringVar(&ov.APIKey, "api-key", "", "Daemon API key, overrides the config file")
	cmd.Flags().BoolVar(&probe, "probe", false, "Ask the daemon for its newest event id")

	return cmd
}

// render prints the cursor table. A positive head adds how far each cursor
// trails the daemon.
func render(out io.Writer, cfg *config.Config, cursors []sqlite.Cursor, head int64) {
	pairs := []ui.Pair{
		ui.KV("Daemon", cfg.Address),
		ui.KV("State", cfg.StateDir),
	}
	if head > 0 {
		pairs = append(pairs, ui.KV("Head event", ui.Accent(strconv.FormatInt(head, 10))))
	}
	fmt.Fprint(out, ui.KeyValues("", pairs...))
	if len(cursors) == 0 {
		fmt.Fprintln(out, ui.Muted("no cursors recorded"))
		return
	}

	headers := []string{"WATCHER", "EVENT", "UPDATED"}
	if head > 0 {
		headers = append(headers, "BEHIND")
	}
	rows := make([][]string, 0, len(cursors))
	for _, c := range cursors {
		row := []string{c.Name, strconv.FormatInt(c.EventID, 10), c.UpdatedAt.Local().Format(time.DateTime)}
		if head > 0 {
			behind := max(head-c.EventID, 0)
			if behind == 0 {
				row = append(row, ui.Success("0"))
			} else {
				row = append(row, ui.Warn(strconv.FormatInt(behind, 10)))
			}
		}
		rows = append(rows, row)
	}
	fmt.Fprintln(out, ui.Table(headers, rows))
}

// probeHead returns the id of the daemon's newest event, 0 when the daemon
// has none yet.
func probeHead(ctx context.Context, cfg *config.Config) (int64, error) {
	client, err := rest.New(cfg.Address,
		rest.WithAPIKey(cfg.APIKey),
		rest.WithLongPollTimeout(time.Second),
		rest.WithRetry(nil),
	)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	batch, err := client.FetchLatest(ctx)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	return batch[len(batch)-1].ID, nil
}
