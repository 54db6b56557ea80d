package main

import (
	"fmt"
	"os"

	"glulx/cmd/glulx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
