package main

import (
	"os"

	"github.com/kodapet/koda/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
