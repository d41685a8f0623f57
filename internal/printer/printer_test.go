package printer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dyluth/warren/internal/loader"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	prevOut, prevErr, prevColor := Stdout, Stderr, color.NoColor
	Stdout, Stderr, color.NoColor = out, errOut, true
	t.Cleanup(func() {
		Stdout, Stderr, color.NoColor = prevOut, prevErr, prevColor
	})
	return out, errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "This is a test error", nil)
		require.Error(t, err)
		assert.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "This is a test error")
	})

	t.Run("single suggestion is printed plainly", func(t *testing.T) {
		_, errOut := capture(t)
		Error("Test Error", "Explanation", []string{"Try this fix"})
		assert.Contains(t, errOut.String(), "Try this fix")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)
		Error("Test Error", "Explanation", []string{"first", "second"})
		assert.Contains(t, errOut.String(), "Either:")
		assert.Contains(t, errOut.String(), "  1. first")
		assert.Contains(t, errOut.String(), "  2. second")
	})
}

func TestPrefixes(t *testing.T) {
	out, _ := capture(t)

	Success("done\n")
	Success("✓ already prefixed\n")
	Warning("careful\n")
	Step("next\n")

	assert.Equal(t, "✓ done\n✓ already prefixed\n⚠️  careful\n→ next\n", out.String())
}

func TestOutcome(t *testing.T) {
	out, _ := capture(t)

	Outcome("a.lua", loader.OutcomeCompiled, nil)
	Outcome("b.lua", loader.OutcomeCached, nil)
	Outcome("c.lua", loader.OutcomeFailed, errors.New("unexpected symbol"))

	s := out.String()
	assert.Contains(t, s, "✓ a.lua (compiled)")
	assert.Contains(t, s, "· b.lua (cached)")
	assert.Contains(t, s, "✗ c.lua\n    unexpected symbol")
}

func TestStatisticsAndTable(t *testing.T) {
	out, _ := capture(t)

	Statistics(loader.Statistics{Compiled: 2, Failed: 1})
	Table([]string{"KEY", "STATE"}, [][]string{{"authority", "Ready"}, {"partition-2", "Ready"}})

	s := out.String()
	assert.Contains(t, s, "2 compiled, 0 cached, 0 precompiled, 1 failed")
	assert.Contains(t, s, "KEY          STATE")
	assert.Contains(t, s, "partition-2  Ready")
}
