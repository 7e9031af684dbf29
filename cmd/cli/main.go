// Package main is the entry point for the cloudcost-etl CLI.
package main

import (
	"os"

	"cloudcost-etl/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
