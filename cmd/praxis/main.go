// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Command praxis runs workflow definitions through the orchestration
// core: it executes steps against registered agent services, launches
// sub-processes, and rolls completed work back through compensation
// handlers when a process fails.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const version = "v0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "run":
		runRun(ctx, args[1:])
	case "validate":
		runValidate(args[1:])
	case "version":
		fmt.Println("praxis", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Print(`Usage: praxis <command> [flags]

Commands:
  run       Execute a workflow definition
  validate  Check workflow definition files without running them
  version   Print the praxis version

Run "praxis <command> -h" for command flags.
`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "praxis:", err)
	os.Exit(1)
}
