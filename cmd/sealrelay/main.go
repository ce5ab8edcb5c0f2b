package main

import (
	"os"

	"sealrelay/cmd/sealrelay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
