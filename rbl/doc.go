// Package rbl reads and writes the header of RBL update packages.
//
// # Package Format
//
// An RBL package is a 96-byte little-endian header followed by the body (for
// a differential update, the patch stream):
//
//	[type(4)="RBL\0"][algo(2)][algo2(2)][timestamp(4)]
//	[part_name(16)][fw_ver(24)][prod_code(24)]
//	[pkg_crc(4)][raw_crc(4)][raw_size(4)][pkg_size(4)][hdr_crc(4)]
//
// Where:
//   - algo = encryption (low nibble) | compression (second nibble)
//   - pkg_crc, pkg_size = CRC32 and length of the body
//   - raw_crc, raw_size = CRC32 and length of the reconstructed image
//   - hdr_crc = CRC32 (IEEE) of the first 92 header bytes
//
// Strings are NUL padded. The body starts at offset HeaderSize, so an
// update is driven with patch offset HeaderSize, patch length pkg_size and
// new image length raw_size.
//
// # Usage
//
//	hdr := rbl.Build(patch, newImage, rbl.Metadata{
//	    Algo:            rbl.AlgoCompressHPatchLite,
//	    PartName:        "app",
//	    FirmwareVersion: "v1.00",
//	    Time:            time.Now(),
//	})
//	err := rbl.WritePackage(w, hdr, patch)
//
//	hdr, err := rbl.Parse("app_patch.rbl")
//
// Only the header CRC is checked on parse.
package rbl
