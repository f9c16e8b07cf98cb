// Command ledger keeps a local balance, its transaction history and the
// savings box list in a key-value store, and serves them over HTTP.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
