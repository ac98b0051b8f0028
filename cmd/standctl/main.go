package main

import (
	"os"

	"github.com/jbweber/homelab/standctl/cmd/standctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
