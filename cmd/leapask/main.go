// Command leapask answers natural-language questions about spreadsheets.
package main

import (
	"os"

	"github.com/leapstack-labs/leapask/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
