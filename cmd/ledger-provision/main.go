// Command ledger-provision manages the month tabs of the SQLite ledger.
// The recording engine never creates tabs on its own.
package main

import (
	"os"

	"extrack/internal/cli"
)

func main() {
	cli.LoadEnvFile()
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
