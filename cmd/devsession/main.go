package main

import (
	"os"

	"github.com/bnema/devsession/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
