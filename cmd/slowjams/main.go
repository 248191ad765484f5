package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// Interrupt during a command is a normal exit path, not an error
		// worth printing.
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "slowjams: %v\n", err)
		}
		os.Exit(1)
	}
}
