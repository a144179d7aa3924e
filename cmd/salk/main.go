// Package main is the entry point for the salk CLI binary.
package main

import (
	"os"

	cli "github.com/rrebane/salk-toolkit/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
