package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "run":
		return runServe(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "submit":
		return runSubmitCmd(args[2:], stdout, stderr)
	case "archetypes":
		return runArchetypesCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return runServe(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "covenant - constitutional signal kernel")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  covenant <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve       Boot the kernel and run until interrupted (default)")
	fmt.Fprintln(w, "  validate    Validate a constitution file and run invariant checks")
	fmt.Fprintln(w, "  verify      Verify the hash chain of a persisted audit ledger")
	fmt.Fprintln(w, "  submit      Boot the kernel, submit one signal, print the result")
	fmt.Fprintln(w, "  archetypes  Compile and print the governance archetypes")
	fmt.Fprintln(w, "  help        Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "ENVIRONMENT:")
	fmt.Fprintln(w, "  COVENANT_CONSTITUTION  Constitution file (default configs/constitution.json)")
	fmt.Fprintln(w, "  COVENANT_ARCHETYPE     Governance archetype (default managerial)")
	fmt.Fprintln(w, "  COVENANT_LEDGER_DB     SQLite ledger path (default in-memory)")
	fmt.Fprintln(w, "  COVENANT_TELEMETRY     \"true\" enables OTLP export")
	fmt.Fprintln(w, "")
}
