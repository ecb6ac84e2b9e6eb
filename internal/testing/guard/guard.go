// Package guard switches binaries into test mode when imported from their tests,
// so main returns before dialing Postgres or Redis.
package guard

import (
	"os"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
)

const envTestMode = "AUTHZ_TEST_MODE"

func init() {
	if os.Getenv(envTestMode) == "" {
		_ = os.Setenv(envTestMode, "1")
	}
	app.RefreshTestMode()
}
