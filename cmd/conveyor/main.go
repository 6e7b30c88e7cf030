// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// conveyor is the operator CLI: validate workflows, run them locally,
// and drive a running conveyor-engine over its control socket.
package main

import (
	"fmt"
	"os"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/commands"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
