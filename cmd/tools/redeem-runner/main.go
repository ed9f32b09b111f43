// Package main implements the redeem-runner CLI tool, a stand-in for a
// real gift-code redemption script during local development.
//
// The redeem coordinator spawns one runner process per (code, player)
// pair and reads a JSON result document from its stdout. This tool
// fulfills that contract with deterministic, configurable outcomes so
// the full coordinator path (spawn, parse, claim, report) can be
// exercised without touching a game backend.
//
// Usage:
//
//	go run ./cmd/tools/redeem-runner CODE PLAYER_ID
//	go run ./cmd/tools/redeem-runner --fail --reason="Code expired" CODE PLAYER_ID
//	go run ./cmd/tools/redeem-runner --sleep=120s CODE PLAYER_ID
//
// The batch identifier is read from the BATCH_ID environment variable,
// matching what the coordinator sets on every invocation, and is echoed
// into the result document for traceability. The process exits non-zero
// when the redemption failed, which the coordinator tolerates as long as
// stdout still carries a result document.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

// runnerOutput mirrors the result document the coordinator parses:
// success and failure hold ["player_id", "detail"] pairs.
type runnerOutput struct {
	Success [][2]string `json:"success"`
	Failure [][2]string `json:"failure"`
	BatchID string      `json:"batch_id,omitempty"`
}

func main() {
	fail := flag.Bool("fail", false, "report the redemption as failed")
	reason := flag.String("reason", "Simulated failure", "failure detail reported with --fail")
	sleep := flag.Duration("sleep", 0, "sleep before emitting the result (exercise timeouts)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] CODE PLAYER_ID\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		flag.Usage()
		os.Exit(2)
	}
	code, playerID := args[0], args[1]

	if *sleep > 0 {
		time.Sleep(*sleep)
	}

	out := runnerOutput{
		Success: [][2]string{},
		Failure: [][2]string{},
		BatchID: os.Getenv("BATCH_ID"),
	}
	if *fail {
		out.Failure = append(out.Failure, [2]string{playerID, *reason})
	} else {
		out.Success = append(out.Success, [2]string{playerID, "redeemed " + code})
	}

	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encoding result: %v\n", err)
		os.Exit(1)
	}
	if *fail {
		os.Exit(1)
	}
}
