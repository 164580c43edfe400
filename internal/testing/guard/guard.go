// Package guard marks the process as a test run. Blank-import it from tests that
// load packages whose init or main would otherwise reach for live infrastructure.
package guard

import "os"

func init() {
	if _, set := os.LookupEnv("HOURLEDGER_TEST_MODE"); !set {
		_ = os.Setenv("HOURLEDGER_TEST_MODE", "1")
	}
}
