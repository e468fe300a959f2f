package invoker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/proofbench/internal/catalog"
	"github.com/dyluth/proofbench/internal/config"
	"github.com/dyluth/proofbench/pkg/timing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProof(t *testing.T, name string) catalog.Proof {
	t.Helper()
	return catalog.Proof{Name: timing.ProofName("aws_" + name), Dir: t.TempDir()}
}

func shell(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func TestInvoke_MeasuresElapsedTime(t *testing.T) {
	inv, err := New(Options{Command: shell("sleep 0.2")})
	require.NoError(t, err)

	elapsed, err := inv.Invoke(context.Background(), newProof(t, "sleep"), 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestInvoke_IgnoresExitStatus(t *testing.T) {
	inv, err := New(Options{Command: shell("exit 3")})
	require.NoError(t, err)

	elapsed, err := inv.Invoke(context.Background(), newProof(t, "fails"), 0)
	assert.NoError(t, err)
	assert.Greater(t, elapsed, time.Duration(0))
}

func TestInvoke_IgnoresSignalledProcess(t *testing.T) {
	inv, err := New(Options{Command: shell("kill -9 $$")})
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), newProof(t, "killed"), 0)
	assert.NoError(t, err)
}

func TestInvoke_LaunchError(t *testing.T) {
	t.Run("missing executable", func(t *testing.T) {
		inv, err := New(Options{Command: []string{"/nonexistent/cbmc-viewer", "{proof}"}})
		require.NoError(t, err)

		_, err = inv.Invoke(context.Background(), newProof(t, "missing"), 2)
		var le *LaunchError
		require.True(t, errors.As(err, &le))
		assert.Equal(t, "aws_missing", le.Proof)
		assert.Equal(t, 2, le.Iteration)
		assert.Equal(t, []string{"/nonexistent/cbmc-viewer", "aws_missing"}, le.Argv)
		assert.Contains(t, err.Error(), "failed to launch")
	})

	t.Run("missing executable in a prepare step", func(t *testing.T) {
		inv, err := New(Options{
			Prepare: [][]string{{"/nonexistent/make", "goto"}},
			Command: shell("true"),
		})
		require.NoError(t, err)

		_, err = inv.Invoke(context.Background(), newProof(t, "prep"), 0)
		var le *LaunchError
		assert.True(t, errors.As(err, &le))
	})

	t.Run("proof directory vanished", func(t *testing.T) {
		inv, err := New(Options{Command: shell("true"), Workdir: config.WorkdirProof})
		require.NoError(t, err)

		proof := catalog.Proof{Name: "gone", Dir: filepath.Join(t.TempDir(), "gone")}
		_, err = inv.Invoke(context.Background(), proof, 0)
		var le *LaunchError
		assert.True(t, errors.As(err, &le))
	})
}

func TestInvoke_PrepareStepsRunUntimedFirst(t *testing.T) {
	proof := newProof(t, "prep")
	logFile := filepath.Join(proof.Dir, "steps.log")

	inv, err := New(Options{
		Prepare: [][]string{
			shell("echo veryclean >> " + logFile),
			shell("sleep 0.3; echo goto >> " + logFile),
		},
		Command: shell("echo result >> " + logFile),
	})
	require.NoError(t, err)

	elapsed, err := inv.Invoke(context.Background(), proof, 0)
	require.NoError(t, err)
	assert.Less(t, elapsed, 300*time.Millisecond, "prepare steps must not be timed")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "veryclean\ngoto\nresult\n", string(data))
}

func TestInvoke_PlaceholdersEnvironmentAndWorkdir(t *testing.T) {
	proof := newProof(t, "array_eq")

	inv, err := New(Options{
		Command:     shell(`echo "{proof} {iteration} $PROOFBENCH_PROOF $PROOFBENCH_ITERATION $EXTRA $(pwd)" > out.txt`),
		Workdir:     config.WorkdirProof,
		Environment: []string{"EXTRA=flag"},
	})
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), proof, 4)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(proof.Dir, "out.txt"))
	require.NoError(t, err)
	fields := strings.Fields(string(data))
	require.Len(t, fields, 6)
	assert.Equal(t, []string{"aws_array_eq", "4", "aws_array_eq", "4", "flag"}, fields[:5])

	wantDir, err := filepath.EvalSymlinks(proof.Dir)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(fields[5])
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir)
}

func TestInvoke_OutputHandling(t *testing.T) {
	t.Run("forwarded when not quiet", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		inv, err := New(Options{
			Command: shell("echo out; echo err >&2"),
			Stdout:  &stdout,
			Stderr:  &stderr,
		})
		require.NoError(t, err)

		_, err = inv.Invoke(context.Background(), newProof(t, "loud"), 0)
		require.NoError(t, err)
		assert.Equal(t, "out\n", stdout.String())
		assert.Equal(t, "err\n", stderr.String())
	})

	t.Run("discarded when quiet", func(t *testing.T) {
		var stdout bytes.Buffer
		inv, err := New(Options{Command: shell("echo out"), Quiet: true, Stdout: &stdout})
		require.NoError(t, err)

		_, err = inv.Invoke(context.Background(), newProof(t, "quiet"), 0)
		require.NoError(t, err)
		assert.Empty(t, stdout.String())
	})
}

func TestInvoke_Cancellation(t *testing.T) {
	t.Run("abandons the process by default", func(t *testing.T) {
		inv, err := New(Options{Command: shell("sleep 5"), Quiet: true})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err = inv.Invoke(ctx, newProof(t, "hung"), 0)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("kills the process group when configured", func(t *testing.T) {
		proof := newProof(t, "killable")
		marker := filepath.Join(proof.Dir, "finished")

		inv, err := New(Options{
			Command:         shell("sleep 1; touch " + marker),
			Quiet:           true,
			KillOnInterrupt: true,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err = inv.Invoke(ctx, proof, 0)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		time.Sleep(1500 * time.Millisecond)
		assert.NoFileExists(t, marker)
	})

	t.Run("cancelled context never starts a process", func(t *testing.T) {
		proof := newProof(t, "never")
		marker := filepath.Join(proof.Dir, "started")

		inv, err := New(Options{Command: shell("touch " + marker)})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = inv.Invoke(ctx, proof, 0)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NoFileExists(t, marker)
	})
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorContains(t, err, "command is empty")

	_, err = New(Options{Command: []string{"true"}, Prepare: [][]string{{}}})
	assert.ErrorContains(t, err, "prepare step 0 is empty")
}

func TestFromConfig(t *testing.T) {
	quiet := false
	inv, err := FromConfig(config.MeasureConfig{
		Prepare:         [][]string{{"make", "goto"}},
		Command:         []string{"make", "result"},
		Workdir:         config.WorkdirProof,
		Quiet:           &quiet,
		KillOnInterrupt: true,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, config.WorkdirProof, inv.opts.Workdir)
	assert.False(t, inv.opts.Quiet)
	assert.True(t, inv.opts.KillOnInterrupt)
}

func TestExpand(t *testing.T) {
	argv := Expand([]string{"cbmc", "--dir={dir}", "{proof}-{iteration}.log"},
		catalog.Proof{Name: "p", Dir: "/proofs/p"}, 7)
	assert.Equal(t, []string{"cbmc", "--dir=/proofs/p", "p-7.log"}, argv)
}
