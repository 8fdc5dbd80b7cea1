// Package task tracks the long running operations of a worker session so
// that termination can wait for every one of them.
//
// Cancellation is cooperative: TerminateAll only sets a flag and cancels
// the task's context. A task polls EnsureNotTerminated between steps and
// must still call Finish when it stops.
package task
