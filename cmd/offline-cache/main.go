package main

import (
	"fmt"
	"os"
)

// this is set by goreleaser
var version string

func main() {
	if version == "" {
		version = "DEV"
	}
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
