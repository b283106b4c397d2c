// Package util provides small helpers shared across the application
package util

import (
	"os"
	"time"
)

// FileExists returns true if a file with the given filename exists
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// WaitTrue polls the condition until it returns true or the timeout elapses,
// and returns the condition's final value. Used by tests to wait for
// asynchronous effects.
func WaitTrue(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return condition()
}
