// Package guard switches the process into test mode when imported, so
// packages under test never start servers or workers.
package guard

import "os"

func init() {
	if os.Getenv("ITEM_TEST_MODE") == "" {
		_ = os.Setenv("ITEM_TEST_MODE", "1")
	}
}
