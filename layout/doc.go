// Package layout reads the YAML description of a target's flash: its
// devices, the partitions on them and the default update settings.
//
// # File Format
//
//	devices:
//	  - name: onchip
//	    size: 256KiB
//	    block-size: 4KiB
//	    file: onchip.bin
//	partitions:
//	  - {name: app, device: onchip, offset: 0, size: 96KiB}
//	  - {name: download, device: onchip, offset: 96KiB, size: 64KiB}
//	  - {name: swap, device: onchip, offset: 160KiB, size: 16KiB}
//	update:
//	  strategy: swap
//	  swap-partition: swap
//	  copy-buffer-size: 1KiB
//
// Sizes are integers or human readable binary sizes ("4KiB", "96k").
// A device without a file is simulated in memory.
//
// # Usage
//
//	l, err := layout.Parse("board.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	table, err := l.Open(filepath.Dir("board.yaml"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer table.Close()
//
//	opts, err := l.Update.Options(table)
//	u := inplace.New(patch.Raw{}, opts...)
package layout
