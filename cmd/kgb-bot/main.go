package main

import (
	"os"

	"github.com/kgb-bot/kgb/cmd/kgb-bot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
