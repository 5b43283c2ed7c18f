package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/praxis-works/covenant/pkg/constitution"
)

// runValidateCmd implements `covenant validate`.
//
// Loads a constitution file, runs structural validation and the builtin
// invariant suite, and reports the outcome.
//
// Exit codes:
//
//	0 = constitution valid, all invariants hold
//	1 = validation or invariant failure
//	2 = runtime error
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path       string
		jsonOutput bool
	)
	cmd.StringVar(&path, "constitution", "configs/constitution.json", "Path to constitution file")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the invariant report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	c, err := constitution.Load(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot load constitution: %v\n", err)
		return 2
	}
	if err := c.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Constitution INVALID: %v\n", err)
		return 1
	}

	constitution.RegisterBuiltinChecks(c)
	report, err := c.RunInvariantChecks()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "Constitution %s is structurally valid\n", path)
		_, _ = fmt.Fprintln(stdout, report.String())
	}

	if !report.AllPassed() {
		return 1
	}
	return 0
}
