package main

import (
	"os"

	"github.com/qbtrules/qbtrules/cmd/qbtrules/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
