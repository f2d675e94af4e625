package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger for use in tests.
func TestLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(os.Stdout, "[convo-test] ", log.LstdFlags)
}
