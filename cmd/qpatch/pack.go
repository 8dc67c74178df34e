package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	units "github.com/docker/go-units"
	"github.com/moffa90/go-qpatch/rbl"
	"github.com/spf13/cobra"
)

var compressionNames = map[string]uint16{
	"none":       rbl.AlgoCompressNone,
	"gzip":       rbl.AlgoCompressGzip,
	"quicklz":    rbl.AlgoCompressQuickLZ,
	"fastlz":     rbl.AlgoCompressFastLZ,
	"hpatchlite": rbl.AlgoCompressHPatchLite,
}

type packOptions struct {
	partName    string
	fwVersion   string
	productCode string
	compression string
	verifyCRC   bool
}

func newPackCommand() *cobra.Command {
	var opts packOptions

	cmd := &cobra.Command{
		Use:   "pack PATCH_FILE NEW_FILE [OUTPUT_FILE]",
		Short: "Wrap a patch in an RBL package header",
		Long: `Pack prepends an RBL header to PATCH_FILE. NEW_FILE is the new image the
patch produces; it provides the raw size and CRC of the header. The output
defaults to PATCH_FILE with the extension replaced by .rbl.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := ""
			if len(args) == 3 {
				out = args[2]
			}
			return runPack(cmd.Context(), &opts, args[0], args[1], out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.partName, "part-name", "app", "Target partition name")
	flags.StringVar(&opts.fwVersion, "fw-version", "v1.00", "Firmware version string")
	flags.StringVar(&opts.productCode, "product-code", "00010203040506070809", "Product code")
	flags.StringVar(&opts.compression, "compression", "hpatchlite", "Body algorithm (none, gzip, quicklz, fastlz, hpatchlite)")
	flags.BoolVar(&opts.verifyCRC, "verify-crc", false, "Ask the updater to check the CRC of the new image")
	return cmd
}

func runPack(ctx context.Context, opts *packOptions, patchFile, newFile, out string) error {
	algo, ok := compressionNames[strings.ToLower(opts.compression)]
	if !ok {
		return fmt.Errorf("unknown compression %q: %w", opts.compression, errdefs.ErrInvalidArgument)
	}

	image, err := os.ReadFile(newFile)
	if err != nil {
		return fmt.Errorf("failed to read new file: %w", err)
	}
	body, err := os.ReadFile(patchFile)
	if err != nil {
		return fmt.Errorf("failed to read patch file: %w", err)
	}
	st, err := os.Stat(patchFile)
	if err != nil {
		return err
	}

	meta := rbl.Metadata{
		Algo:            algo | rbl.AlgoCryptNone,
		Algo2:           rbl.Algo2VerifyNone,
		Time:            st.ModTime(),
		PartName:        opts.partName,
		FirmwareVersion: opts.fwVersion,
		ProductCode:     opts.productCode,
	}
	if opts.verifyCRC {
		meta.Algo2 = rbl.Algo2VerifyCRC
	}
	hdr := rbl.Build(body, image, meta)

	if out == "" {
		out = strings.TrimSuffix(patchFile, filepath.Ext(patchFile)) + ".rbl"
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := rbl.WritePackage(f, hdr, body); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.G(ctx).WithFields(log.Fields{
		"output":  out,
		"body":    units.BytesSize(float64(len(body))),
		"image":   units.BytesSize(float64(len(image))),
		"created": time.Unix(int64(hdr.Timestamp), 0).UTC().Format(time.RFC3339),
	}).Info("package created")
	return nil
}
