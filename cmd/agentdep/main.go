package main

import (
	"os"

	"github.com/bianoble/agentdep/cmd/agentdep/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
