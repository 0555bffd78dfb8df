// Package main is the entry point for the sdlq CLI binary.
package main

import (
	"os"

	"sdlq/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
