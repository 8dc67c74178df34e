package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/moffa90/go-qpatch/layout"
	"github.com/spf13/cobra"
)

func newLayoutCommand() *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "layout FILE",
		Short: "Validate and print a flash layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := layout.Parse(args[0])
			if err != nil {
				return err
			}
			if asYAML {
				return l.Marshal(cmd.OutOrStdout())
			}
			printLayout(cmd.OutOrStdout(), l)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the normalized layout as YAML")
	return cmd
}

func printLayout(w io.Writer, l *layout.Layout) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tSIZE\tBLOCK\tBACKING")
	for _, d := range l.Devices {
		backing := d.File
		if backing == "" {
			backing = "memory"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Size, d.BlockSize, backing)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "PARTITION\tDEVICE\tOFFSET\tSIZE")
	for _, p := range l.Partitions {
		fmt.Fprintf(tw, "%s\t%s\t0x%08X\t%s\n", p.Name, p.Device, int64(p.Offset), p.Size)
	}
	_ = tw.Flush()

	u := l.Update
	strategy := u.Strategy
	if strategy == "" {
		strategy = layout.StrategyRAM
	}
	fmt.Fprintf(w, "\nupdate strategy: %s", strategy)
	if strategy == layout.StrategySwap {
		fmt.Fprintf(w, " (%s+0x%X)", u.SwapPartition, int64(u.SwapOffset))
	}
	fmt.Fprintln(w)
}
