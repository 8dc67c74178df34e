package inplace

import "time"

// Progress describes how much of the new image has been produced.
// Passed to ProgressCallback while an update runs.
type Progress struct {
	// Percent is the share of the new image handed to the staging area,
	// always a multiple of 5
	Percent int

	// Written is the number of new image bytes produced so far
	Written int64

	// Total is the expected new image length
	Total int64

	// Committed is the number of bytes already written over the old image
	Committed int64

	// ElapsedTime is the time elapsed since the update started
	ElapsedTime time.Duration
}

// ProgressCallback is called when the progress percentage reaches a new
// multiple of 5. It runs inside the engine's write callback, so it must
// return quickly.
//
// Example:
//
//	u := inplace.New(patch.Raw{},
//	    inplace.WithProgressCallback(func(p inplace.Progress) {
//	        fmt.Printf("\rBuffering... %3d%%", p.Percent)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface that can be provided to the updater.
// This allows integration with any logging framework.
//
// Example with standard log package:
//
//	type StdLogger struct{}
//	func (l *StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (l *StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Warn(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
//
//	u := inplace.New(engine, inplace.WithLogger(&StdLogger{}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Warn logs a recoverable problem with optional key-value pairs
	Warn(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
