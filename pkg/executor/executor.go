// Package executor drives one session through a validated, substituted
// command sequence and produces a structured result with per-command
// outcomes and defined partial-failure semantics.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/marionet/marionet/pkg/logging"
	"github.com/marionet/marionet/pkg/session"
	"github.com/marionet/marionet/pkg/types"
)

// runState is the per-run lifecycle.
type runState string

const (
	statePending   runState = "pending"
	stateRunning   runState = "running"
	stateCompleted runState = "completed"
	stateFailed    runState = "failed"
	stateCancelled runState = "cancelled"
)

// Executor runs command sequences against session transports.
type Executor struct {
	defaultTimeout time.Duration
	log            *logging.Logger
}

// New creates an executor. defaultTimeout bounds commands that do not
// declare their own timeout.
func New(defaultTimeout time.Duration, log *logging.Logger) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if log == nil {
		log, _ = logging.NewLogger("executor")
	}
	return &Executor{defaultTimeout: defaultTimeout, log: log}
}

// Run executes commands strictly in order against one session's transport.
//
// Failure policy is fail-fast: a failing command aborts the rest unless it
// is marked best-effort. Cancellation is cooperative and observed only
// between commands; an in-flight protocol call is never preempted, so the
// remote session is never left mid-command. Every command gets its own
// bounded timeout.
func (e *Executor) Run(ctx context.Context, transport session.Transport, commands []types.Command) *types.ExecutionResult {
	start := time.Now()
	state := statePending

	result := &types.ExecutionResult{
		Outcomes: make([]types.CommandOutcome, 0, len(commands)),
	}

	var (
		executed  int // commands that ran to completion, either way
		succeeded int
		failed    int
		aborted   bool
		cancelled bool
	)

	state = stateRunning
	for i, cmd := range commands {
		// Cancellation checkpoint: only between commands.
		if ctx.Err() != nil {
			cancelled = true
			e.skipFrom(result, commands, i)
			break
		}

		outcome := e.runCommand(transport, cmd)
		result.Outcomes = append(result.Outcomes, outcome)
		executed++

		if outcome.Status == types.OutcomeSucceeded {
			succeeded++
			continue
		}

		failed++
		if cmd.BestEffort {
			e.log.Debugf("best-effort command %d (%s) failed: %s", i, cmd.Method, outcome.Error)
			continue
		}

		// Fail-fast: remaining commands are skipped, not attempted.
		aborted = true
		e.skipFrom(result, commands, i+1)
		break
	}

	result.Duration = time.Since(start)

	switch {
	case cancelled && executed == 0:
		state = stateCancelled
		result.Status = types.RunCancelled
	case cancelled:
		state = stateCancelled
		result.Status = types.RunPartialFailure
	case aborted && succeeded == 0:
		state = stateFailed
		result.Status = types.RunFailure
	case failed > 0:
		state = stateFailed
		result.Status = types.RunPartialFailure
	default:
		state = stateCompleted
		result.Status = types.RunSuccess
	}

	e.log.Infof("run %s: %d/%d commands succeeded in %v",
		state, succeeded, len(commands), result.Duration)
	return result
}

// runCommand issues one protocol call with its own timeout. The timeout
// context is deliberately detached from the run context so that caller
// cancellation never interrupts an in-flight command.
func (e *Executor) runCommand(transport session.Transport, cmd types.Command) types.CommandOutcome {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	cmdCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	output, err := transport.Send(cmdCtx, cmd.Method, cmd.Params)
	duration := time.Since(start)

	outcome := types.CommandOutcome{
		Method:   cmd.Method,
		Duration: duration,
	}

	if err != nil {
		outcome.Status = types.OutcomeFailed
		if errors.Is(err, context.DeadlineExceeded) {
			outcome.Error = types.NewError(types.KindTimeout,
				"command %q exceeded its %v timeout", cmd.Method, timeout).Error()
		} else {
			outcome.Error = types.WrapError(types.KindExecution, err,
				"command %q failed", cmd.Method).Error()
		}
		return outcome
	}

	outcome.Status = types.OutcomeSucceeded
	outcome.Output = output
	return outcome
}

// skipFrom records skipped outcomes for every command from index on.
func (e *Executor) skipFrom(result *types.ExecutionResult, commands []types.Command, index int) {
	for _, cmd := range commands[index:] {
		result.Outcomes = append(result.Outcomes, types.CommandOutcome{
			Method: cmd.Method,
			Status: types.OutcomeSkipped,
		})
	}
}
