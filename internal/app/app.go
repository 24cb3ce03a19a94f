// Package app wires the crowdinsight CLI commands.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "dedup":
		return runDedup(args[1:])
	case "filter":
		return runFilter(args[1:])
	case "curate":
		return runCurate(args[1:])
	case "enrich":
		return runEnrich(args[1:])
	case "assemble":
		return runAssemble(args[1:])
	case "process", "run-once":
		return runProcess(args[1:])
	case "report":
		return runReport(args[1:])
	case "verify":
		return runVerify(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "crowdinsight CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  crowdinsight <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  validate  Check raw dump lines against the campaign schema")
	fmt.Fprintln(os.Stderr, "  dedup     Drop repeated project ids from a raw dump")
	fmt.Fprintln(os.Stderr, "  filter    Keep terminal-state campaigns, resolve cancellations")
	fmt.Fprintln(os.Stderr, "  curate    Flatten filtered campaigns into the curated database")
	fmt.Fprintln(os.Stderr, "  enrich    Join descriptions and creator history onto curated campaigns")
	fmt.Fprintln(os.Stderr, "  assemble  Build model-ready feature records from enriched campaigns")
	fmt.Fprintln(os.Stderr, "  process   Run dedup through assemble over a work directory")
	fmt.Fprintln(os.Stderr, "  run-once  Alias for process")
	fmt.Fprintln(os.Stderr, "  report    Summarize curated campaigns over a timeframe")
	fmt.Fprintln(os.Stderr, "  verify    Sanity-check assembled embedding vectors")
	fmt.Fprintln(os.Stderr, "  serve     Start the read-only API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"crowdinsight <command> -h\" for command-specific flags.")
}
