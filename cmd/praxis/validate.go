// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/praxisflow/praxis/pkg/workflow"
)

func runValidate(args []string) {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() == 0 {
		fatal(fmt.Errorf("validate needs at least one workflow definition file"))
	}

	defs := make([]*workflow.Definition, 0, cmd.NArg())
	failed := false
	for _, path := range cmd.Args() {
		def, err := workflow.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
			failed = true
			continue
		}
		fmt.Printf("ok   %s (%s, %d steps)\n", path, def.ID, len(def.Steps))
		defs = append(defs, def)
	}

	// Registering the whole set catches duplicate ids and lets
	// sub-process references be checked across files.
	registry, err := workflow.NewRegistry(defs...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "FAIL", err)
		failed = true
	} else {
		for _, def := range defs {
			for _, step := range def.Steps {
				if step.SubProcess != nil && registry.Lookup(step.SubProcess.DefinitionID) == nil {
					fmt.Fprintf(os.Stderr, "WARN %s: step %q references definition %q not in this set\n",
						def.ID, step.Name, step.SubProcess.DefinitionID)
				}
			}
		}
	}

	if failed {
		os.Exit(1)
	}
}
