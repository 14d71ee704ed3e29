package main

import (
	"beacon_p2p/cmd/beacon/commands"
	"os"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
