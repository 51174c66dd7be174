package cmd

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabhi256/gctune/internal/gc"
	"github.com/mabhi256/gctune/internal/replay"
)

var testdata = filepath.Join("..", "internal", "gc", "testdata")

// execute runs the root command in an isolated home so no config file or
// completion install interferes.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SHELL", "/bin/sh")

	resetFlags(t, rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag of cmd and its subcommands to its default,
// since flag values outlive a single Execute.
func resetFlags(t *testing.T, cmd *cobra.Command) {
	t.Helper()
	reset := func(f *pflag.Flag) {
		require.NoError(t, f.Value.Set(f.DefValue))
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(t, sub)
	}
}

// requireReport accepts a complete run or a partial report.
func requireReport(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		return
	}
	var exitErr *exitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, exitInsufficient, exitErr.code)
}

func TestAnalyzeWritesReport(t *testing.T) {
	out, err := execute(t, "analyze",
		filepath.Join(testdata, "cms.log"),
		"--jstat", filepath.Join(testdata, "jstat.txt"),
		"--jmap", filepath.Join(testdata, "jmap_heap.txt"))
	requireReport(t, err)

	assert.Contains(t, out, "Meta")
	assert.Contains(t, out, "GC Information")
	assert.Contains(t, out, "Current JVM Configuration")
}

func TestAnalyzeSavesSnapshotForReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml.lz4")
	_, err := execute(t, "analyze", filepath.Join(testdata, "cms.log"), "--save", path)
	requireReport(t, err)

	s, err := replay.Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, s.LogLines)
	assert.Nil(t, s.Static)

	out, err := execute(t, "replay", path)
	requireReport(t, err)
	assert.Contains(t, out, "GC Information")
}

func TestFlagsDoNotLeakBetweenRuns(t *testing.T) {
	_, err := execute(t, "analyze",
		filepath.Join(testdata, "cms.log"),
		"--jmap", filepath.Join(testdata, "jmap_heap.txt"),
		"--optimize", "3")
	requireReport(t, err)
	assert.Equal(t, filepath.Join(testdata, "jmap_heap.txt"), analyzeFlags.jmap)

	resetFlags(t, rootCmd)
	assert.Empty(t, analyzeFlags.jmap)
	assert.Empty(t, analyzeFlags.jstat)
	assert.Equal(t, 9.0, analyzeFlags.optimize)
	assert.False(t, analyzeCmd.Flags().Changed("optimize"))
}

func TestAnalyzeRejectsUnknownOutput(t *testing.T) {
	_, err := execute(t, "analyze", filepath.Join(testdata, "cms.log"), "-o", "html")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")

	_, err = execute(t, "analyze", filepath.Join(testdata, "cms.log"), "-o", "cli")
	requireReport(t, err)
}

func TestAnalyzeMissingFile(t *testing.T) {
	_, err := execute(t, "analyze", filepath.Join(t.TempDir(), "nope.log"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file does not exist")
}

func TestExitErrorUnwraps(t *testing.T) {
	err := error(&exitError{code: exitInsufficient, err: gc.ErrInsufficientData})
	assert.True(t, errors.Is(err, gc.ErrInsufficientData))
	assert.Equal(t, gc.ErrInsufficientData.Error(), err.Error())
}

func TestCounterStart(t *testing.T) {
	assert.Equal(t, int64(0), counterStart(nil).Unix())
}
