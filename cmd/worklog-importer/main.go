package main

import (
	"fmt"
	"os"

	"github.com/go-faster/errors"

	"github.com/iota-uz/worklog-importer/pkg/resolver"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// An operator declining a creation prompt is a clean abort, not a
		// failure.
		if errors.Is(err, resolver.ErrDeclined) {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
