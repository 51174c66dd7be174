package collect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeProc(t *testing.T, pid string, cmdline []string, stat string) (ProcFS, string) {
	t.Helper()

	root := t.TempDir()
	cwd := t.TempDir()
	dir := filepath.Join(root, pid)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.Symlink(cwd, filepath.Join(dir, "cwd")))

	var raw []byte
	for _, arg := range cmdline {
		raw = append(raw, arg...)
		raw = append(raw, 0)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cmdline"), raw, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stat"), []byte("cpu  100 0 50 1000 0 0 0 0 0 0\nbtime 1000\n"), 0o644))

	now := func() time.Time { return time.Unix(2000, 500_000_000) }
	return ProcFS{Root: root, PageSize: 4096, Now: now}, cwd
}

const javaStat = "4242 (java main) S 1 4242 4242 0 -1 4194560 120 0 0 0 2500 300 0 0 20 0 57 0 50050 5368709120 2048 18446744073709551615 1 1 0 0 0 0 0 3 16800972 0 0 0 17 2 0 0 0 0 0"

func TestProbe(t *testing.T) {
	t.Parallel()

	fs, cwd := fakeProc(t, "4242", []string{
		"/usr/lib/jvm/java-8/bin/java",
		"-Xms256m",
		"-Xmx1g",
		"-Xloggc:logs/gc.log",
		"-XX:+UseGCLogFileRotation",
		"-XX:+UseConcMarkSweepGC",
		"com.example.Main",
	}, javaStat)

	info, err := fs.Probe(4242)
	require.NoError(t, err)

	assert.Equal(t, 4242, info.PID)
	assert.Equal(t, cwd, info.Cwd)
	assert.Equal(t, "/usr/lib/jvm/java-8", info.JavaHome)
	assert.Equal(t, filepath.Join(cwd, "logs/gc.log"), info.GCLogPath)
	assert.True(t, info.GCLogRotation)
	assert.Equal(t, "256m", info.MinHeap)
	assert.Equal(t, "1g", info.MaxHeap)

	assert.True(t, info.UserTime.Equal(decimal.NewFromInt(25)))
	assert.True(t, info.SysTime.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 57, info.Threads)
	assert.True(t, info.Uptime.Equal(decimal.RequireFromString("500")), info.Uptime.String())
	assert.Equal(t, int64(5368709120), info.VSizeBytes)
	assert.Equal(t, int64(2048*4096), info.RSSBytes)
	assert.Equal(t, "/usr/lib/jvm/java-8/bin/jmap", Tool(info.JavaHome, "jmap"))
}

func TestProbeMissingProcess(t *testing.T) {
	t.Parallel()

	_, err := ProcFS{Root: t.TempDir()}.Probe(1)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestProbeRejectsShortStat(t *testing.T) {
	t.Parallel()

	fs, _ := fakeProc(t, "7", []string{"java"}, "7 (java) S 1 2 3")
	_, err := fs.Probe(7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stat of process 7")
}

func TestGCLogFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "gc.log")

	_, err := (&ProcessInfo{}).GCLogFile()
	require.ErrorIs(t, err, ErrNoGCLog)

	info := &ProcessInfo{GCLogPath: path, GCLogRotation: true}
	got, err := info.GCLogFile()
	require.NoError(t, err)
	assert.Equal(t, path, got, "no rotated segment yet")

	for _, name := range []string{"gc.log.0", "gc.log.1", "gc.log.3"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	got, err = info.GCLogFile()
	require.NoError(t, err)
	assert.Equal(t, path+".1", got)

	info.GCLogRotation = false
	got, err = info.GCLogFile()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestParseJps(t *testing.T) {
	t.Parallel()

	out := []byte(`4242 com.example.Main -Xmx1g -XX:+UseConcMarkSweepGC
5151 sun.tools.jps.Jps -Dapplication.home=/usr/lib/jvm/java-8
6161 app.jar
7171 -- process information unavailable
garbage
`)

	assert.Equal(t, []JavaProcess{
		{PID: 4242, MainClass: "com.example.Main", Args: "-Xmx1g -XX:+UseConcMarkSweepGC"},
		{PID: 6161, MainClass: "app"},
	}, parseJps(out))
}
