package main

import (
	"os"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "v0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
