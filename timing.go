// FILE: lixenwraith/cornflakes/timing.go
package cornflakes

import "time"

// Core timing constants for production use.
// These define the fundamental timing behavior of the watcher.
const (
	// File watching intervals (ordered by frequency)
	SpinWaitInterval      = 5 * time.Millisecond   // CPU-friendly busy-wait quantum
	MinPollInterval       = 100 * time.Millisecond // Hard floor for file stat polling
	ShutdownTimeout       = 100 * time.Millisecond // Graceful watcher termination window
	DefaultDebounce       = 500 * time.Millisecond // File change coalescence period
	DefaultReloadInterval = time.Second            // Minimum spacing of throttled reloads
	DefaultPollInterval   = time.Second            // Standard file monitoring frequency
	DefaultReloadTimeout  = 5 * time.Second        // Maximum duration for reload operations
)

// Derived timing relationships for internal use.
const (
	// debounceSettleMultiplier ensures sufficient time for debounce to complete
	debounceSettleMultiplier = 3 // Wait 3x debounce period for value stabilization
)
