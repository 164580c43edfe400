package app

import (
	"os"
	"sync"
)

// TestModeEnv set to "1" makes the binaries return before connecting to Postgres or Redis.
const TestModeEnv = "HOURLEDGER_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})

// InTestMode reports whether runtime side effects should be skipped. The flag is
// read once per process.
func InTestMode() bool {
	return testMode()
}
