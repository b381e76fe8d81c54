package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/owlvin/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "owlvin:", err)
		os.Exit(1)
	}
}
