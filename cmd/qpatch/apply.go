package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	units "github.com/docker/go-units"
	"github.com/moffa90/go-qpatch/flash"
	"github.com/moffa90/go-qpatch/inplace"
	"github.com/moffa90/go-qpatch/internal/logutil"
	"github.com/moffa90/go-qpatch/layout"
	"github.com/moffa90/go-qpatch/patch"
	"github.com/moffa90/go-qpatch/rbl"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	engineAuto = "auto"
	engineRaw  = "raw"
	engineIPS  = "ips"
)

type applyOptions struct {
	layoutFile     string
	patchPartition string
	target         string
	load           string
	engine         string

	// raw mode, used when the patch partition holds no package header
	raw        bool
	patchLen   string
	newLen     string
	offset     string
	oldSize    string
	noProgress bool

	// overrides of the layout update section
	strategy       string
	swapPartition  string
	swapOffset     string
	ramBufferSize  string
	copyBufferSize string
	readOrderCheck bool
}

func newApplyCommand() *cobra.Command {
	var opts applyOptions

	cmd := &cobra.Command{
		Use:   "apply [OPTIONS]",
		Short: "Apply an update package in place",
		Long: `Apply rebuilds the new image over the target partition, reading the
update package from the patch partition. Without --raw the patch partition
must start with an RBL package header.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), cmd.Flags(), &opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.layoutFile, "layout", "f", "layout.yaml", "Flash layout file")
	flags.StringVar(&opts.patchPartition, "patch-partition", "download", "Partition holding the update package")
	flags.StringVar(&opts.target, "target", "", "Partition to update (default: the package part_name)")
	flags.StringVar(&opts.load, "load", "", "Program this package file into the patch partition first")
	flags.StringVar(&opts.engine, "engine", engineAuto, `Patch engine ("auto"|"raw"|"ips")`)
	flags.BoolVar(&opts.raw, "raw", false, "The patch partition holds a bare patch without header")
	flags.StringVar(&opts.patchLen, "patch-len", "", "Patch length in raw mode")
	flags.StringVar(&opts.newLen, "new-len", "", "New image length in raw mode")
	flags.StringVar(&opts.offset, "offset", "0", "Patch offset in raw mode")
	flags.StringVar(&opts.oldSize, "old-size", "", "Old image length for the ips engine (default: target size)")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "Do not draw a progress bar")

	flags.StringVar(&opts.strategy, "strategy", "", `Staging strategy ("swap"|"ram")`)
	flags.StringVar(&opts.swapPartition, "swap-partition", "", "Swap partition of the swap strategy")
	flags.StringVar(&opts.swapOffset, "swap-offset", "", "Start of the swap window")
	flags.StringVar(&opts.ramBufferSize, "ram-buffer-size", "", "Staging buffer size of the ram strategy")
	flags.StringVar(&opts.copyBufferSize, "copy-buffer-size", "", "Bounce buffer size of flash-to-flash copies")
	flags.BoolVar(&opts.readOrderCheck, "read-order-check", false, "Fail when the engine reads replaced old data")

	return cmd
}

// job is one resolved update.
type job struct {
	header      *rbl.Header
	engine      patch.Engine
	patchPart   flash.Region
	target      flash.Region
	patchLen    int64
	newLen      int64
	patchOffset int64
}

func runApply(ctx context.Context, flags *pflag.FlagSet, opts *applyOptions) error {
	l, err := layout.Parse(opts.layoutFile)
	if err != nil {
		return err
	}
	if err := overrideUpdate(&l.Update, flags, opts); err != nil {
		return err
	}
	if err := l.Validate(); err != nil {
		return err
	}

	table, err := l.Open(filepath.Dir(opts.layoutFile))
	if err != nil {
		return err
	}
	defer func() { _ = table.Close() }()

	if opts.load != "" {
		if err := loadPackage(ctx, table, opts.patchPartition, opts.load); err != nil {
			return err
		}
	}

	j, err := resolveJob(ctx, table, opts)
	if err != nil {
		return err
	}

	updateOpts, err := l.Update.Options(table)
	if err != nil {
		return err
	}
	updateOpts = append(updateOpts, inplace.WithLogger(logutil.New(ctx)))
	if !opts.noProgress {
		bar := newProgressBar(os.Stderr, 40)
		defer bar.Done()
		updateOpts = append(updateOpts, inplace.WithProgressCallback(bar.Update))
	}

	res, err := inplace.New(j.engine, updateOpts...).Apply(ctx, j.patchPart, j.target, j.patchLen, j.newLen, j.patchOffset)
	if err != nil {
		return fmt.Errorf("update %s: %w", j.target.Name(), err)
	}
	if res.TailEraseErr != nil {
		log.G(ctx).WithError(res.TailEraseErr).Warn("remaining space was not erased")
	}

	if j.header != nil && j.header.Algo2 == rbl.Algo2VerifyCRC {
		if err := j.header.VerifyImage(flash.NewSectionReader(j.target, 0, j.newLen)); err != nil {
			return fmt.Errorf("verify %s: %w", j.target.Name(), err)
		}
		log.G(ctx).WithField("crc", fmt.Sprintf("0x%08X", j.header.RawCRC)).Info("image verified")
	}

	log.G(ctx).WithFields(log.Fields{
		"target":  j.target.Name(),
		"size":    units.BytesSize(float64(res.Committed)),
		"commits": res.Commits,
		"elapsed": res.Elapsed,
	}).Info("update complete")
	return nil
}

// overrideUpdate applies the command line flags that were set on top of
// the layout update section.
func overrideUpdate(u *layout.Update, flags *pflag.FlagSet, opts *applyOptions) error {
	if flags.Changed("strategy") {
		u.Strategy = opts.strategy
	}
	if flags.Changed("swap-partition") {
		u.SwapPartition = opts.swapPartition
	}
	if flags.Changed("read-order-check") {
		u.ReadOrderCheck = opts.readOrderCheck
	}

	sizes := []struct {
		flag string
		val  string
		dst  *layout.Size
	}{
		{"swap-offset", opts.swapOffset, &u.SwapOffset},
		{"ram-buffer-size", opts.ramBufferSize, &u.RAMBufferSize},
		{"copy-buffer-size", opts.copyBufferSize, &u.CopyBufferSize},
	}
	for _, s := range sizes {
		if !flags.Changed(s.flag) {
			continue
		}
		n, err := parseSize(s.val)
		if err != nil {
			return fmt.Errorf("--%s: %w", s.flag, err)
		}
		*s.dst = layout.Size(n)
	}
	return nil
}

func resolveJob(ctx context.Context, table *flash.Table, opts *applyOptions) (*job, error) {
	patchPart, err := table.Find(opts.patchPartition)
	if err != nil {
		return nil, err
	}
	j := &job{patchPart: patchPart}

	targetName := opts.target
	if opts.raw {
		if targetName == "" {
			return nil, fmt.Errorf("--target is required with --raw: %w", errdefs.ErrInvalidArgument)
		}
		if j.patchLen, err = parseSize(opts.patchLen); err != nil {
			return nil, fmt.Errorf("--patch-len: %w", err)
		}
		if j.newLen, err = parseSize(opts.newLen); err != nil {
			return nil, fmt.Errorf("--new-len: %w", err)
		}
		if j.patchOffset, err = parseSize(opts.offset); err != nil {
			return nil, fmt.Errorf("--offset: %w", err)
		}
	} else {
		hdr, err := rbl.ParseReader(flash.NewSectionReader(patchPart, 0, rbl.HeaderSize))
		if err != nil {
			return nil, fmt.Errorf("read package header from %s: %w", patchPart.Name(), err)
		}
		if hdr.Crypt() != rbl.AlgoCryptNone {
			return nil, fmt.Errorf("encrypted packages: %w", errdefs.ErrNotImplemented)
		}
		body := flash.NewSectionReader(patchPart, hdr.BodyOffset(), int64(hdr.PackageSize))
		if err := hdr.VerifyBody(body); err != nil {
			return nil, err
		}
		if targetName == "" {
			targetName = hdr.PartName
		}
		j.header = hdr
		j.patchLen = int64(hdr.PackageSize)
		j.newLen = int64(hdr.RawSize)
		j.patchOffset = hdr.BodyOffset()

		log.G(ctx).WithFields(log.Fields{
			"part_name":   hdr.PartName,
			"fw_ver":      hdr.FirmwareVersion,
			"compression": hdr.CompressionName(),
			"package":     units.BytesSize(float64(hdr.PackageSize)),
			"image":       units.BytesSize(float64(hdr.RawSize)),
		}).Info("found update package")
	}

	if j.target, err = table.Find(targetName); err != nil {
		return nil, err
	}
	if j.engine, err = selectEngine(opts, j); err != nil {
		return nil, err
	}
	return j, nil
}

func selectEngine(opts *applyOptions, j *job) (patch.Engine, error) {
	name := opts.engine
	if name == engineAuto {
		switch {
		case j.header == nil, j.header.Compression() == rbl.AlgoCompressNone:
			name = engineRaw
		default:
			return nil, fmt.Errorf("%s packages need an explicit --engine: %w",
				j.header.CompressionName(), errdefs.ErrNotImplemented)
		}
	}

	switch name {
	case engineRaw:
		return patch.Raw{}, nil
	case engineIPS:
		oldSize := j.target.Size()
		if opts.oldSize != "" {
			n, err := parseSize(opts.oldSize)
			if err != nil {
				return nil, fmt.Errorf("--old-size: %w", err)
			}
			oldSize = n
		}
		return patch.IPS{OldSize: oldSize, NewSize: j.newLen}, nil
	}
	return nil, fmt.Errorf("unknown engine %q: %w", name, errdefs.ErrInvalidArgument)
}

// loadPackage programs the file at path into the named partition.
func loadPackage(ctx context.Context, table *flash.Table, partition, path string) error {
	part, err := table.Find(partition)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read package: %w", err)
	}
	if int64(len(data)) > part.Size() {
		return fmt.Errorf("package of %s does not fit %s (%s): %w",
			units.BytesSize(float64(len(data))), part.Name(), units.BytesSize(float64(part.Size())),
			errdefs.ErrInvalidArgument)
	}

	if err := part.Erase(0, int64(len(data))); err != nil {
		return fmt.Errorf("erase %s: %w", part.Name(), err)
	}
	if err := part.Write(0, data); err != nil {
		return fmt.Errorf("write %s: %w", part.Name(), err)
	}
	log.G(ctx).WithFields(log.Fields{"partition": part.Name(), "file": path}).Debug("package loaded")
	return nil
}

// parseSize parses an integer or human readable size.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing size: %w", errdefs.ErrInvalidArgument)
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", err, errdefs.ErrInvalidArgument)
	}
	return n, nil
}
