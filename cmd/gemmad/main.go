package main

import (
	"fmt"
	"os"

	"gemmad/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "gemmad:", err)
		os.Exit(1)
	}
}
