package app

import (
	"os"
	"sync"
	"sync/atomic"
)

// Either variable set to "1" keeps the binaries from dialing Postgres and Redis.
// ODYSSEY_TEST_MODE is shared with the other Odyssey services; AUTHZ_TEST_MODE is
// the engine's own.
var testModeEnvs = []string{"ODYSSEY_TEST_MODE", "AUTHZ_TEST_MODE"}

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	enabled := false
	for _, key := range testModeEnvs {
		if os.Getenv(key) == "1" {
			enabled = true
			break
		}
	}
	testModeFlag.Store(enabled)
}

// InTestMode reports whether the binaries should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode re-reads the environment after it changed.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	detectTestMode()
}
