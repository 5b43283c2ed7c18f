package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/praxis-works/covenant/pkg/config"
	"github.com/praxis-works/covenant/pkg/observability"
	"github.com/praxis-works/covenant/pkg/signal"
)

// runSubmitCmd implements `covenant submit`.
//
// Boots a kernel, submits a single signal through the full pipeline and
// prints the result. Useful for poking at a constitution from the shell.
//
// Exit codes:
//
//	0 = signal processed
//	1 = signal rejected or terminated
//	2 = runtime error
func runSubmitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("submit", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sigType    string
		domain     string
		authority  string
		source     string
		payloadArg string
	)
	cmd.StringVar(&sigType, "type", "query", "Signal type")
	cmd.StringVar(&domain, "domain", "operational", "Signal domain")
	cmd.StringVar(&authority, "authority", "operator", "Signal authority")
	cmd.StringVar(&source, "source", "", "Signal source tier, if any")
	cmd.StringVar(&payloadArg, "payload", "{}", "Signal payload as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var payload interface{}
	if err := json.Unmarshal([]byte(payloadArg), &payload); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --payload is not valid JSON: %v\n", err)
		return 2
	}

	cfg := config.Load()
	logger := newLogger(stderr, cfg.LogLevel)

	ctx := context.Background()
	obs, err := observability.New(ctx, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	eng, cleanup, err := buildEngine(cfg, obs, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer cleanup()

	if _, err := eng.Boot(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Boot failed: %v\n", err)
		return 2
	}

	var opts []signal.Option
	if source != "" {
		opts = append(opts, signal.WithSource(source))
	}

	result, err := eng.SubmitAndProcess(ctx, sigType, domain, authority, payload, opts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))

	if !result.Processed {
		return 1
	}
	return 0
}
