package health

import "sync/atomic"

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the process-wide readiness gate. Flip it off at the start
// of graceful shutdown so load balancers drain traffic before the listener
// closes.
func SetReady(ok bool) { ready.Store(ok) }

func accepting() bool { return ready.Load() }
