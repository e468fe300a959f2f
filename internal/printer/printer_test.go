package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects printer output into buffers for the duration of a test.
func capture(t *testing.T) (stdout, stderr *bytes.Buffer) {
	t.Helper()
	stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
	oldOut, oldErr, oldNoColor := Stdout, Stderr, color.NoColor
	Stdout, Stderr, color.NoColor = stdout, stderr, true
	t.Cleanup(func() {
		Stdout, Stderr, color.NoColor = oldOut, oldErr, oldNoColor
	})
	return stdout, stderr
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("results file not writable", "Could not create out/results.csv", nil)
		require.Error(t, err)
		assert.Equal(t, "results file not writable", err.Error())
		assert.Equal(t, "results file not writable\n\nCould not create out/results.csv\n", stderr.String())
	})

	t.Run("single suggestion", func(t *testing.T) {
		_, stderr := capture(t)
		Error("no proofs found", "Nothing to run", []string{"Check the directory"})
		assert.Contains(t, stderr.String(), "\nCheck the directory\n")
		assert.NotContains(t, stderr.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, stderr := capture(t)
		Error("t", "e", []string{"First option", "Second option"})
		assert.Contains(t, stderr.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, stderr := capture(t)
	err := ErrorWithContext("Test Error", "Explanation", map[string]string{
		"Proofs dir": "/src/proofs",
		"Marker":     "Makefile",
	}, nil)
	require.Error(t, err)
	assert.Equal(t, "Test Error", err.Error())
	assert.Contains(t, stderr.String(), "  Marker: Makefile\n  Proofs dir: /src/proofs\n")
}

func TestMessages(t *testing.T) {
	stdout, stderr := capture(t)

	Success("wrote %s\n", "results.csv")
	Success("✓ already prefixed\n")
	Step("running %d proofs\n", 3)
	Info("plain %d\n", 1)
	Warning("in-flight processes may survive\n")

	assert.Equal(t, "✓ wrote results.csv\n✓ already prefixed\n→ running 3 proofs\nplain 1\n", stdout.String())
	assert.Equal(t, "⚠️  in-flight processes may survive\n", stderr.String())
}
