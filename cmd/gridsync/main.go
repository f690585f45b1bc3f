package main

import (
	"fmt"
	"os"

	"gridsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gridsync: %v\n", err)
		os.Exit(1)
	}
}
