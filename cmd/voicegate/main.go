// Package main is the entry point for the voicegate daemon.
package main

import (
	"fmt"
	"os"

	"github.com/unstuckgg/voicegate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
