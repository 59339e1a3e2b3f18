package main

import (
	"fmt"
	"os"

	"github.com/layer-3/rendezvous/cmd/rendezvous/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
