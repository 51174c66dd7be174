package collect

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/procfs"
	"github.com/shopspring/decimal"
)

// ErrNoGCLog means the JVM was started without -Xloggc.
var ErrNoGCLog = errors.New("process has no gc log configured")

// Linux reports /proc/<pid>/stat times in USER_HZ, which is 100 on every
// mainstream kernel build; procfs assumes the same.
const clockTicksPerSecond = 100

// ProcessInfo is what /proc tells us about the target JVM.
type ProcessInfo struct {
	PID           int             `yaml:"pid" json:"pid"`
	Cwd           string          `yaml:"cwd" json:"cwd"`
	JavaHome      string          `yaml:"java_home" json:"java_home"`
	GCLogPath     string          `yaml:"gc_log_path" json:"gc_log_path"`
	GCLogRotation bool            `yaml:"gc_log_rotation" json:"gc_log_rotation"`
	MinHeap       string          `yaml:"min_heap,omitempty" json:"min_heap,omitempty"`
	MaxHeap       string          `yaml:"max_heap,omitempty" json:"max_heap,omitempty"`
	Uptime        decimal.Decimal `yaml:"uptime" json:"uptime"`
	UserTime      decimal.Decimal `yaml:"user_time" json:"user_time"`
	SysTime       decimal.Decimal `yaml:"sys_time" json:"sys_time"`
	RSSBytes      int64           `yaml:"rss_bytes" json:"rss_bytes"`
	VSizeBytes    int64           `yaml:"vsize_bytes" json:"vsize_bytes"`
	Threads       int             `yaml:"threads" json:"threads"`
}

// ProcFS reads process details from a procfs mount.
type ProcFS struct {
	Root     string
	PageSize int64
	// Now is the wall clock uptime is measured against.
	Now func() time.Time
}

func DefaultProcFS() ProcFS {
	return ProcFS{Root: procfs.DefaultMountPoint, PageSize: int64(os.Getpagesize()), Now: time.Now}
}

// ProbeProcess is DefaultProcFS().Probe.
func ProbeProcess(pid int) (*ProcessInfo, error) {
	return DefaultProcFS().Probe(pid)
}

func (fs ProcFS) Probe(pid int) (*ProcessInfo, error) {
	pfs, err := procfs.NewFS(fs.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	proc, err := pfs.Proc(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	info := &ProcessInfo{PID: pid}

	if info.Cwd, err = proc.Cwd(); err != nil {
		return nil, fmt.Errorf("failed to read cwd of process %d: %w", pid, err)
	}
	cmdline, err := proc.CmdLine()
	if err != nil {
		return nil, fmt.Errorf("failed to read cmdline of process %d: %w", pid, err)
	}
	parseCmdline(info, cmdline)

	stat, err := proc.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to read stat of process %d: %w", pid, err)
	}
	kernel, err := pfs.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to read kernel stat: %w", err)
	}

	now := fs.Now
	if now == nil {
		now = time.Now
	}
	ticks := decimal.NewFromInt(clockTicksPerSecond)
	started := decimal.NewFromUint64(kernel.BootTime).Add(decimal.NewFromUint64(stat.Starttime).Div(ticks))

	info.UserTime = decimal.NewFromUint64(uint64(stat.UTime)).Div(ticks)
	info.SysTime = decimal.NewFromUint64(uint64(stat.STime)).Div(ticks)
	info.Threads = stat.NumThreads
	info.Uptime = decimal.NewFromInt(now().UnixMicro()).Shift(-6).Sub(started)
	info.VSizeBytes = int64(stat.VSize)
	info.RSSBytes = int64(stat.RSS) * fs.PageSize
	return info, nil
}

// parseCmdline picks the GC log, rotation, heap bounds and java home out of
// the JVM's arguments.
func parseCmdline(info *ProcessInfo, args []string) {
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "-Xloggc:"):
			path := strings.TrimPrefix(arg, "-Xloggc:")
			if !filepath.IsAbs(path) {
				path = filepath.Join(info.Cwd, path)
			}
			info.GCLogPath = path
		case strings.HasSuffix(arg, "/bin/java"):
			info.JavaHome = filepath.Dir(filepath.Dir(arg))
		case arg == "-XX:+UseGCLogFileRotation":
			info.GCLogRotation = true
		case strings.HasPrefix(arg, "-Xms"):
			info.MinHeap = strings.TrimPrefix(arg, "-Xms")
		case strings.HasPrefix(arg, "-Xmx"):
			info.MaxHeap = strings.TrimPrefix(arg, "-Xmx")
		}
	}
}

// GCLogFile is the log to follow. With rotation enabled the JVM writes
// <log>.0, <log>.1, ... and the highest existing index is current.
func (p *ProcessInfo) GCLogFile() (string, error) {
	if p.GCLogPath == "" {
		return "", ErrNoGCLog
	}
	if !p.GCLogRotation {
		return p.GCLogPath, nil
	}
	return LatestRotated(p.GCLogPath), nil
}

// LatestRotated returns path.N for the highest consecutive N that exists, or
// path itself when there is no path.0.
func LatestRotated(path string) string {
	n := 0
	for {
		if _, err := os.Stat(fmt.Sprintf("%s.%d", path, n)); err != nil {
			break
		}
		n++
	}
	if n == 0 {
		return path
	}
	return fmt.Sprintf("%s.%d", path, n-1)
}

// Tool returns the path of a JDK tool, falling back to $PATH lookup when the
// java home is unknown.
func Tool(javaHome, name string) string {
	if javaHome == "" {
		return name
	}
	return filepath.Join(javaHome, "bin", name)
}
