// Package redeem implements the gift-code redemption coordination loop: it
// polls pending redeem tasks, fans each batch out to isolated runner
// subprocesses under a bounded timeout, aggregates per-player outcomes, and
// delivers one consolidated report per batch.
package redeem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"guildpost/internal/config"
	"guildpost/internal/types"
)

// Runner executes one player's redemption attempt in isolation and returns
// the raw stdout produced by the attempt. Implementations must respect the
// context deadline; expiry is reported as a types.ErrCodeRunnerTimeout error.
type Runner interface {
	Run(ctx context.Context, code, playerID, batchID string) (string, error)
}

// ExecRunner invokes the redeem automation script as a subprocess, one
// process per attempt so every redemption gets a fresh browser context. The
// script receives (code, player_id) as positional arguments and BATCH_ID in
// its environment, and writes a single RunnerResult JSON document to stdout.
//
// A non-zero exit with parseable output is not an invocation error: the
// script exits non-zero whenever any player failed, and the stdout document
// is authoritative.
type ExecRunner struct {
	command string
	script  string
	workDir string
}

// NewExecRunner creates an ExecRunner from the runner configuration.
func NewExecRunner(cfg config.RunnerConfig) *ExecRunner {
	return &ExecRunner{
		command: cfg.Command,
		script:  cfg.Script,
		workDir: cfg.WorkDir,
	}
}

// Run executes the script and returns its combined output. The context
// deadline is the invocation timeout; on expiry the subprocess is killed and
// a runner_timeout error is returned.
func (r *ExecRunner) Run(ctx context.Context, code, playerID, batchID string) (string, error) {
	cmd := exec.CommandContext(ctx, r.command, r.script, code, playerID)
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}
	cmd.Env = append(cmd.Environ(), "BATCH_ID="+batchID)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())

	if ctx.Err() != nil {
		return output, types.NewAppError(types.ErrCodeRunnerTimeout,
			fmt.Sprintf("runner for player %s exceeded its deadline", playerID), ctx.Err())
	}

	if err != nil {
		// Exit-code-only failures still carry the result document on stdout.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && looksLikeResult(output) {
			return output, nil
		}
		return output, types.NewAppError(types.ErrCodeRunnerFailed,
			fmt.Sprintf("runner for player %s: %v", playerID, err), err)
	}

	return output, nil
}

// looksLikeResult is a cheap pre-check that stdout carries a JSON document
// rather than a crash trace. Full validation happens at parse time.
func looksLikeResult(output string) bool {
	return strings.HasPrefix(output, "{")
}
