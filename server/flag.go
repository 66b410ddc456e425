package server

import "sync/atomic"

// ShutdownFlag tells one wingman to stop. It goes from unset to set once
// and never back.
type ShutdownFlag struct {
	set atomic.Bool
}

// NewShutdownFlag returns an unset flag
func NewShutdownFlag() *ShutdownFlag {
	return &ShutdownFlag{}
}

// Set raises the flag. Calling it again has no effect.
func (f *ShutdownFlag) Set() {
	f.set.Store(true)
}

// IsSet reports whether the flag has been raised
func (f *ShutdownFlag) IsSet() bool {
	return f.set.Load()
}
