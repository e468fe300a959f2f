// Package invoker runs the external verification command for one
// (proof, iteration) unit of work and measures how long it took.
//
// The external process is treated as a black box: only the fact that it
// terminated is observed. Exit codes are never inspected, so a proof that
// fails fast is indistinguishable from one that passes fast. Operators are
// expected to validate the suite separately before trusting timings.
//
// Processes spawned by the external command (make, cbmc, ...) are not
// tracked. Unless KillOnInterrupt is set, interrupting a run leaves any
// in-flight process tree running.
package invoker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/proofbench/internal/catalog"
	"github.com/dyluth/proofbench/internal/config"
	"github.com/dyluth/proofbench/internal/logging"
)

// waitDelay bounds how long Wait keeps copying output after the process
// exits, when a grandchild still holds the pipe open.
const waitDelay = 2 * time.Second

// LaunchError means the external process could not be started at all.
// It is the only failure the invoker distinguishes.
type LaunchError struct {
	Proof     string
	Iteration int
	Argv      []string
	Err       error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %q for %s iteration %d: %v",
		strings.Join(e.Argv, " "), e.Proof, e.Iteration, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Options configures an Invoker.
type Options struct {
	// Prepare steps run before every measured command and are not timed.
	Prepare [][]string
	// Command is the measured command. Arguments may use {proof}, {dir}
	// and {iteration} placeholders.
	Command []string
	// Workdir is config.WorkdirInherit or config.WorkdirProof.
	Workdir string
	// Quiet discards the tool's stdout and stderr. When it is false and
	// Stdout or Stderr is not an *os.File, Wait also waits for output copying
	// to finish, so a descendant that keeps the pipe open can add up to
	// waitDelay to the measured time.
	Quiet bool
	// Environment entries (KEY=VALUE) appended to the inherited environment.
	Environment []string
	// KillOnInterrupt kills the process group of an in-flight command when
	// the context is cancelled. Off by default.
	KillOnInterrupt bool

	// Stdout and Stderr receive tool output when Quiet is false.
	// Default to the operator's stderr.
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger
}

// Invoker starts one external process tree per call.
type Invoker struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Invoker.
func New(opts Options) (*Invoker, error) {
	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return nil, fmt.Errorf("command is empty")
	}
	for i, step := range opts.Prepare {
		if len(step) == 0 || step[0] == "" {
			return nil, fmt.Errorf("prepare step %d is empty", i)
		}
	}
	if opts.Workdir == "" {
		opts.Workdir = config.WorkdirInherit
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stderr
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Invoker{opts: opts, logger: logger}, nil
}

// FromConfig builds an Invoker from the measure section of proofbench.yml.
func FromConfig(m config.MeasureConfig, logger *slog.Logger) (*Invoker, error) {
	return New(Options{
		Prepare:         m.Prepare,
		Command:         m.Command,
		Workdir:         m.Workdir,
		Quiet:           m.IsQuiet(),
		Environment:     m.Environment,
		KillOnInterrupt: m.KillOnInterrupt,
		Logger:          logger,
	})
}

// Invoke runs the prepare steps and then the measured command for one
// iteration of a proof. It blocks until the measured process terminates,
// however that happens, and returns the wall-clock time from just before
// the process was started to just after its exit was observed.
//
// A *LaunchError is returned when any step cannot be started. If ctx is
// cancelled while a step is running, Invoke stops waiting and returns
// ctx.Err(); the process is left running unless KillOnInterrupt is set.
func (inv *Invoker) Invoke(ctx context.Context, proof catalog.Proof, iteration int) (time.Duration, error) {
	for _, step := range inv.opts.Prepare {
		if _, err := inv.run(ctx, proof, iteration, step); err != nil {
			return 0, err
		}
	}
	return inv.run(ctx, proof, iteration, inv.opts.Command)
}

func (inv *Invoker) run(ctx context.Context, proof catalog.Proof, iteration int, template []string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	argv := Expand(template, proof, iteration)
	cmd := exec.Command(argv[0], argv[1:]...)
	if inv.opts.Workdir == config.WorkdirProof {
		cmd.Dir = proof.Dir
	}
	cmd.Env = append(os.Environ(), inv.opts.Environment...)
	cmd.Env = append(cmd.Env,
		"PROOFBENCH_PROOF="+string(proof.Name),
		"PROOFBENCH_ITERATION="+strconv.Itoa(iteration),
	)
	// nil Stdin/Stdout/Stderr are connected to the null device
	if !inv.opts.Quiet {
		cmd.Stdout = inv.opts.Stdout
		cmd.Stderr = inv.opts.Stderr
		cmd.WaitDelay = waitDelay
	}
	if inv.opts.KillOnInterrupt {
		setProcessGroup(cmd)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return 0, &LaunchError{Proof: string(proof.Name), Iteration: iteration, Argv: argv, Err: err}
	}

	var elapsed time.Duration
	done := make(chan struct{})
	go func() {
		// Exit status is deliberately ignored: only termination matters.
		waitErr := cmd.Wait()
		elapsed = time.Since(start)
		if waitErr != nil {
			inv.logger.Debug("process exited", "proof", proof.Name, "iteration", iteration, "status", waitErr)
		}
		close(done)
	}()

	select {
	case <-done:
		return elapsed, nil
	case <-ctx.Done():
		if inv.opts.KillOnInterrupt {
			if err := killProcessGroup(cmd); err != nil {
				inv.logger.Warn("failed to kill process group", "proof", proof.Name, "pid", cmd.Process.Pid, "error", err)
			}
			<-done
		} else {
			inv.logger.Warn("abandoning running process", "proof", proof.Name, "iteration", iteration, "pid", cmd.Process.Pid)
		}
		return 0, ctx.Err()
	}
}

// Expand substitutes the {proof}, {dir} and {iteration} placeholders.
func Expand(template []string, proof catalog.Proof, iteration int) []string {
	r := strings.NewReplacer(
		"{proof}", string(proof.Name),
		"{dir}", proof.Dir,
		"{iteration}", strconv.Itoa(iteration),
	)
	argv := make([]string, len(template))
	for i, arg := range template {
		argv[i] = r.Replace(arg)
	}
	return argv
}
