// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"
	"time"
)

// Test timeouts.
const (
	DefaultTestTimeout = 5 * time.Second
	ShortTestTimeout   = 1 * time.Second
)

// Receive returns the next value from ch, failing the test after timeout.
func Receive[T any](t *testing.T, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timeout after %v: %s", timeout, msg)
	}
	var zero T
	return zero
}

// WaitForChannel waits for a signal or close on ch.
func WaitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	Receive(t, ch, timeout, msg)
}
