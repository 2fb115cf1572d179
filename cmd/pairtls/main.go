package main

import (
	"os"

	"github.com/backkem/pairtls/cmd/pairtls/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
