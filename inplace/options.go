package inplace

import "github.com/moffa90/go-qpatch/patch"

// Defaults used when an option is not given.
const (
	// DefaultRAMBufferSize is the staging buffer size of RAMBuffer when
	// no strategy is configured
	DefaultRAMBufferSize = 4096

	// DefaultCopyBufferSize is the bounce buffer used to copy a flash swap
	// window into the old partition
	DefaultCopyBufferSize = 4096

	// MaxRAMBufferSize bounds the RAM staging buffer
	MaxRAMBufferSize = 16 << 20
)

// Config holds the updater configuration.
type Config struct {
	// Strategy selects where new data is staged before it is committed
	Strategy Strategy

	// ProgressCallback is called during the update to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// CopyBufferSize is the RAM buffer used for flash-to-flash copies
	CopyBufferSize int

	// PatchBlockSize and OldBlockSize are passed to the engine as read
	// size hints
	PatchBlockSize int
	OldBlockSize   int

	// ReadOrderCheck rejects old image reads below the committed length
	// instead of trusting the engine
	ReadOrderCheck bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Strategy:       RAMBuffer(DefaultRAMBufferSize),
		CopyBufferSize: DefaultCopyBufferSize,
		PatchBlockSize: patch.DefaultBlockSize,
		OldBlockSize:   patch.DefaultBlockSize,
	}
}

// Option is a functional option for configuring the Updater.
type Option func(*Config)

// WithStrategy selects the staging strategy.
//
// Example:
//
//	swap, _ := table.Find("swap")
//	u := inplace.New(engine, inplace.WithStrategy(inplace.FlashSwap(swap, 0)))
func WithStrategy(s Strategy) Option {
	return func(c *Config) {
		if s != nil {
			c.Strategy = s
		}
	}
}

// WithProgressCallback sets a callback function to track update progress.
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the updater operations.
//
// Example:
//
//	u := inplace.New(engine, inplace.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithCopyBufferSize sets the bounce buffer size of flash-to-flash copies.
func WithCopyBufferSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.CopyBufferSize = size
		}
	}
}

// WithBlockSizeHints sets the read size hints passed to the engine.
// Non-positive values keep the default.
func WithBlockSizeHints(patchBlock, oldBlock int) Option {
	return func(c *Config) {
		if patchBlock > 0 {
			c.PatchBlockSize = patchBlock
		}
		if oldBlock > 0 {
			c.OldBlockSize = oldBlock
		}
	}
}

// WithReadOrderCheck makes old image reads that start below the committed
// length fail with a ReadOrderError. Such reads would observe new data.
func WithReadOrderCheck(enabled bool) Option {
	return func(c *Config) {
		c.ReadOrderCheck = enabled
	}
}
