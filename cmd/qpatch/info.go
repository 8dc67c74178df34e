package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/moffa90/go-qpatch/rbl"
	"github.com/spf13/cobra"
)

func newInfoCommand() *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "info PACKAGE",
		Short: "Print the header of an RBL package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd.OutOrStdout(), args[0], verify)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "Check the package body CRC")
	return cmd
}

func runInfo(w io.Writer, path string, verify bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	hdr, err := rbl.ParseReader(f)
	if err != nil {
		return err
	}
	printHeader(w, hdr)

	if verify {
		if err := hdr.VerifyBody(f); err != nil {
			return err
		}
		fmt.Fprintln(w, "body CRC OK")
	}
	return nil
}

func printHeader(w io.Writer, hdr *rbl.Header) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	verify := "none"
	if hdr.Algo2 == rbl.Algo2VerifyCRC {
		verify = "crc"
	}
	fmt.Fprintf(tw, "Partition:\t%s\n", hdr.PartName)
	fmt.Fprintf(tw, "Firmware version:\t%s\n", hdr.FirmwareVersion)
	fmt.Fprintf(tw, "Product code:\t%s\n", hdr.ProductCode)
	fmt.Fprintf(tw, "Built:\t%s\n", time.Unix(int64(hdr.Timestamp), 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "Compression:\t%s\n", hdr.CompressionName())
	fmt.Fprintf(tw, "Encryption:\t0x%X\n", hdr.Crypt())
	fmt.Fprintf(tw, "Verification:\t%s\n", verify)
	fmt.Fprintf(tw, "Body:\t%s (%d bytes, CRC 0x%08X)\n", units.BytesSize(float64(hdr.PackageSize)), hdr.PackageSize, hdr.PackageCRC)
	fmt.Fprintf(tw, "Image:\t%s (%d bytes, CRC 0x%08X)\n", units.BytesSize(float64(hdr.RawSize)), hdr.RawSize, hdr.RawCRC)
}
