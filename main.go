package main

import (
	"os"

	"github.com/bryan-buckman/infovore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
