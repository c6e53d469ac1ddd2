package commandline

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/storygen/pkg/support/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestParams() *params.Params {
	return params.New(map[string]any{
		"x":          11.0,
		"y":          7,
		"z":          false,
		"s":          "foo",
		"list_int":   []int{},
		"list_float": []float64{},
		"list_str":   []string{},
	})
}

func TestParseSettings(t *testing.T) {
	p := createTestParams()

	paramsSet, err := ParseSettings(p, "x=13;z=true;y=1_000;s=bar;list_int=1,3,7;list_float=0.1,1.2,3e3;list_str=a,b;")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "z", "y", "s", "list_int", "list_float", "list_str"}, paramsSet)
	assert.Equal(t, 13.0, params.GetOr(p, "x", 0.0))
	assert.Equal(t, 1000, params.GetOr(p, "y", 0))
	assert.True(t, params.GetOr(p, "z", false))
	assert.Equal(t, "bar", params.GetOr(p, "s", ""))
	assert.Equal(t, []int{1, 3, 7}, params.GetOr(p, "list_int", []int{}))
	assert.Equal(t, []float64{0.1, 1.2, 3e3}, params.GetOr(p, "list_float", []float64{}))
	assert.Equal(t, []string{"a", "b"}, params.GetOr(p, "list_str", []string{}))

	// Parameter "q" is unknown.
	_, err = ParseSettings(p, "q=3")
	require.Error(t, err)

	// Cannot set the wrong type of value.
	_, err = ParseSettings(p, "y=3.14")
	require.Error(t, err)

	// Missing "=".
	_, err = ParseSettings(p, "y")
	require.Error(t, err)
}

func TestParseSettings_File(t *testing.T) {
	p := createTestParams()
	filePath := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("# Comment\nx=1.5\n\ny=3;s=baz\n"), 0o644))
	paramsSet, err := ParseSettings(p, "file:"+filePath+";s=last")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "s", "s"}, paramsSet)
	assert.Equal(t, 1.5, params.GetOr(p, "x", 0.0))
	assert.Equal(t, "last", params.GetOr(p, "s", ""))

	modified := SprintModifiedSettings(p, paramsSet)
	assert.Equal(t, 3, len(strings.Split(modified, "\n")), "duplicates are listed once: %q", modified)
	assert.Contains(t, modified, `"s": (string) last`)

	_, err = ParseSettings(p, "file:"+filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestSprintSettings(t *testing.T) {
	p := params.New(map[string]any{"max_tokens": 200, "lambdas": []float64{0.1, 0.3, 0.6}})
	assert.Equal(t, "\t\"lambdas\": ([]float64) 0.1,0.3,0.6\n\t\"max_tokens\": (int) 200", SprintSettings(p))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23s", FormatDuration(1234567890*time.Nanosecond))
	assert.Equal(t, "15.00ms", FormatDuration(15*time.Millisecond))
	assert.Equal(t, "1m31s", FormatDuration(90*time.Second+600*time.Millisecond))
}

func TestTable(t *testing.T) {
	table := NewTable([]string{"id", "text", "count"}, lipgloss.Right, lipgloss.Left, lipgloss.Right)
	table.Row(false, "0", "a", "1,234")
	table.Row(true, "3", "<eot>", "17")
	assert.Equal(t, 2, table.Count)
	assert.True(t, table.Highlights[1])
	rendered := table.String()
	for _, want := range []string{"id", "text", "1,234", "<eot>"} {
		assert.Contains(t, rendered, want)
	}
}

func TestProgressBar(t *testing.T) {
	maxUpdateFrequency = time.Millisecond
	var buf bytes.Buffer
	pBar := NewProgressBar(&buf, 3, "documents", func() (string, string) { return "perplexity", "12.5" })
	pBar.Add(1, 100)
	pBar.Add(2, 250)
	pBar.Done()
	pBar.Done() // Extra calls are ignored.
	out := buf.String()
	assert.Contains(t, out, "350")
	assert.Contains(t, out, "perplexity")
	assert.Contains(t, out, "12.5")
}
