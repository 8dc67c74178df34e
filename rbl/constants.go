package rbl

// Magic is the package type tag at the start of every header.
const Magic = "RBL\x00"

// Header layout, little-endian, HeaderSize bytes total.
const (
	HeaderSize = 96

	typeOffset        = 0
	algoOffset        = 4
	algo2Offset       = 6
	timestampOffset   = 8
	partNameOffset    = 12
	fwVersionOffset   = 28
	prodCodeOffset    = 52
	packageCRCOffset  = 76
	rawCRCOffset      = 80
	rawSizeOffset     = 84
	packageSizeOffset = 88
	headerCRCOffset   = 92

	PartNameSize    = 16
	FwVersionSize   = 24
	ProductCodeSize = 24
)

// Encryption algorithms, low nibble of Algo.
const (
	AlgoCryptNone = 0x0000
	AlgoCryptXOR  = 0x0001
	AlgoCryptAES  = 0x0002
	AlgoCryptMask = 0x000F
)

// Compression algorithms, second nibble of Algo.
const (
	AlgoCompressNone       = 0x0000
	AlgoCompressGzip       = 0x0100
	AlgoCompressQuickLZ    = 0x0200
	AlgoCompressFastLZ     = 0x0300
	AlgoCompressHPatchLite = 0x0400
	AlgoCompressMask       = 0x0F00
)

// Verification algorithms carried in Algo2.
const (
	Algo2VerifyNone = 0x0000
	Algo2VerifyCRC  = 0x0001
)
