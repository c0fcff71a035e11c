// Package main is the entry point for the sqelf GELF receiver.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/sqelf/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
