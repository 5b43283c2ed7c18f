package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/praxis-works/covenant/pkg/ledger"
)

// runVerifyCmd implements `covenant verify`.
//
// Loads a persisted audit ledger and walks its hash chain. With --truncate
// the chain is repaired by dropping everything after the last valid entry.
//
// Exit codes:
//
//	0 = chain valid (or repaired with --truncate)
//	1 = chain corrupted
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dbPath     string
		truncate   bool
		jsonOutput bool
	)
	cmd.StringVar(&dbPath, "db", "", "Path to SQLite ledger (REQUIRED)")
	cmd.BoolVar(&truncate, "truncate", false, "Drop entries after the last valid one")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the verification report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if dbPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --db is required")
		return 2
	}

	store, err := ledger.OpenSQLite(dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot open ledger: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	l, err := ledger.NewFromStore(store)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot load ledger: %v\n", err)
		return 2
	}

	v := l.Verify()
	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]interface{}{
			"valid":            v.Valid,
			"total_entries":    v.TotalEntries,
			"last_valid_index": v.LastValidIndex,
			"corruptions":      v.Corruptions,
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if v.Valid {
		_, _ = fmt.Fprintf(stdout, "Ledger valid: %d entries, head %s\n", v.TotalEntries, l.LastHash())
	} else {
		_, _ = fmt.Fprintf(stdout, "Ledger CORRUPTED: last valid index %d of %d entries\n",
			v.LastValidIndex, v.TotalEntries)
		for _, c := range v.Corruptions {
			_, _ = fmt.Fprintf(stdout, "  entry %d: %s\n", c.Index, c.Reason)
		}
	}

	if v.Valid {
		return 0
	}
	if truncate {
		rep, err := l.TruncateAtLastValid()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: truncation failed: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Truncated %d entries, new length %d\n", rep.Removed, rep.NewLength)
		return 0
	}
	return 1
}
