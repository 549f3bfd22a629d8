// Package main is the entry point for the streamrtd application.
package main

import (
	"os"

	"github.com/streamlib/runtime/cmd/streamrt/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
