// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the one place the binary writes to stderr
// without the structured logger: reporting the error that ends main.
package process

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// exit is replaced in tests.
var exit = os.Exit

// Fatal writes err to stderr and exits with code 1. A multi-line error
// (such as errors.Join of configuration problems) is printed one
// problem per line.
func Fatal(err error) {
	writeError(os.Stderr, err)
	exit(1)
}

func writeError(w io.Writer, err error) {
	lines := strings.Split(strings.TrimRight(err.Error(), "\n"), "\n")
	if len(lines) == 1 {
		fmt.Fprintf(w, "error: %s\n", lines[0])
		return
	}
	fmt.Fprintln(w, "error:")
	for _, line := range lines {
		fmt.Fprintf(w, "  %s\n", line)
	}
}
