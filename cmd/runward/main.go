package main

import (
	"fmt"
	"os"

	"github.com/runward-io/runward/cmd/runward/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
