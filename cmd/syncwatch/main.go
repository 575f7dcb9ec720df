package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roseeng/SyncTrayzor/cmd/syncwatch/cmdutil"
	statuscmd "github.com/roseeng/SyncTrayzor/cmd/syncwatch/status"
	"github.com/roseeng/SyncTrayzor/cmd/syncwatch/ui"
	watchcmd "github.com/roseeng/SyncTrayzor/cmd/syncwatch/watch"
	"github.com/roseeng/SyncTrayzor/internal/logging"
)

var version = "dev"

func main() {
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	var opts cmdutil.Options
	root := &cobra.Command{
		Use:           "syncwatch",
		Short:         "Follow a sync daemon's event stream",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Config file (default $XDG_CONFIG_HOME/synctrayzor/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")

	root.AddCommand(watchcmd.Cmd(&opts))
	root.AddCommand(statuscmd.Cmd(&opts))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}
