// Package flash models the partition storage an in-place update runs on.
//
// # Overview
//
// A Device is a NOR-style flash array with a fixed erase block size. Erased
// cells read as ErasedByte (0xFF) and a write may only clear bits, so any
// range must be erased before it is programmed. Erase requests are rounded
// outward to whole blocks, the same way on-chip flash drivers behave.
//
// A Partition is a named, block aligned window on a device. Partitions and
// devices both implement Region, the primitive the update engine consumes:
//
//	type Region interface {
//	    Name() string
//	    Size() int64
//	    BlockSize() int64
//	    Read(off int64, p []byte) error
//	    Write(off int64, p []byte) error
//	    Erase(off, size int64) error
//	}
//
// # Simulated Devices
//
// Two backings are provided, useful for tests and for running an update on a
// host against a flash dump:
//
//	dev, _ := flash.NewMemDevice("onchip", 256*1024, 4096)
//	dev, _ := flash.OpenFileDevice("onchip", "onchip.bin", 256*1024, 4096)
//
// # Partition Table
//
// A Table groups devices and partitions and resolves partitions by name:
//
//	t := flash.NewTable()
//	_ = t.AddDevice(dev)
//	_, _ = t.AddPartition("app", "onchip", 0, 96*1024)
//	app, err := t.Find("app")
//	if errdefs.IsNotFound(err) {
//	    // no such partition
//	}
package flash
