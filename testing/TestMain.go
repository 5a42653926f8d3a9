// Package testing switches binaries into test mode when imported by a
// test package, so that importing a cmd or wiring helper never dials
// Postgres or Redis.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ECOQUALITY_TEST_MODE", "1")
		if os.Getenv("CSRF_SECRET") == "" {
			_ = os.Setenv("CSRF_SECRET", "test-csrf-secret")
		}
		if os.Getenv("RBAC_STORE") == "" {
			_ = os.Setenv("RBAC_STORE", "memory")
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain can be delegated to from package tests that need test mode
// before any init side effects run.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
