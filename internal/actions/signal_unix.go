package actions

import "syscall"

// syscallTerminate returns the polite-shutdown signal sent to a timed-out
// command before the grace-period kill (spec.md §5).
func syscallTerminate() syscall.Signal {
	return syscall.SIGTERM
}
