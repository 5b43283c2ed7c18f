package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/praxis-works/covenant/pkg/archetype"
	"github.com/praxis-works/covenant/pkg/constitution"
)

// runArchetypesCmd implements `covenant archetypes`.
//
// Compiles every governance archetype the constitution declares and prints
// the resulting configurations.
func runArchetypesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("archetypes", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path       string
		jsonOutput bool
	)
	cmd.StringVar(&path, "constitution", "configs/constitution.json", "Path to constitution file")
	cmd.BoolVar(&jsonOutput, "json", false, "Output compiled archetypes as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	c, err := constitution.Load(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot load constitution: %v\n", err)
		return 2
	}
	if err := c.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: constitution invalid: %v\n", err)
		return 2
	}

	cf, err := archetype.NewConfigurator(c)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	compiled := make([]archetype.Compiled, 0)
	for _, name := range cf.List() {
		cp, err := cf.Compile(name)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: compile %s: %v\n", name, err)
			return 2
		}
		compiled = append(compiled, cp)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(compiled, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	for _, cp := range compiled {
		_, _ = fmt.Fprintf(stdout, "%s\n", cp.Name)
		_, _ = fmt.Fprintf(stdout, "  steward mode:     %s\n", cp.StewardMode)
		_, _ = fmt.Fprintf(stdout, "  routing mutable:  %v\n", cp.RoutingMutable)
		_, _ = fmt.Fprintf(stdout, "  upgrades enabled: %v\n", cp.UpgradesEnabled)
		if len(cp.Violations) > 0 {
			for _, v := range cp.Violations {
				_, _ = fmt.Fprintf(stdout, "  VIOLATION: %s\n", v)
			}
		}
	}
	return 0
}
