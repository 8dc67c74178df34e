// Command qpatch applies firmware update packages in place on simulated
// flash described by a layout file, and builds and inspects those packages.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/moffa90/go-qpatch/internal/logutil"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	logLevel  string
	logFormat string
}

func newRootCommand() *cobra.Command {
	var opts globalOptions

	cmd := &cobra.Command{
		Use:           "qpatch",
		Short:         "In-place differential firmware updates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logutil.Configure(opts.logLevel, opts.logFormat)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.logLevel, "log-level", "l", "info", `Set the logging level ("debug"|"info"|"warn"|"error")`)
	flags.StringVar(&opts.logFormat, "log-format", string(log.TextFormat), `Set the log format ("text"|"json")`)

	cmd.AddCommand(
		newApplyCommand(),
		newPackCommand(),
		newInfoCommand(),
		newLayoutCommand(),
	)
	return cmd
}

func main() {
	log.L.Logger.SetOutput(os.Stderr)

	ctx := log.WithLogger(context.Background(), log.L.WithField("cmd", "qpatch"))
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "qpatch:", err)
		os.Exit(1)
	}
}
