package collect

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// JavaProcess is one entry of jps output.
type JavaProcess struct {
	PID       int
	MainClass string
	Args      string
}

// DiscoverJavaProcesses lists local JVMs via jps.
func DiscoverJavaProcesses(ctx context.Context, javaHome string) ([]JavaProcess, error) {
	output, err := exec.CommandContext(ctx, Tool(javaHome, "jps"), "-l", "-v").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run jps: %w (ensure Java development tools are installed)", err)
	}
	return parseJps(output), nil
}

func parseJps(output []byte) []JavaProcess {
	var processes []JavaProcess
	scanner := bufio.NewScanner(bytes.NewReader(output))

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			continue
		}

		pid, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		if shouldSkipProcess(parts[1]) {
			continue
		}

		process := JavaProcess{PID: pid, MainClass: strings.TrimSuffix(parts[1], ".jar")}
		if len(parts) > 2 {
			process.Args = parts[2]
		}
		processes = append(processes, process)
	}
	return processes
}

var skipPatterns = []string{
	"sun.tools.jps.Jps",
	"jdk.jcmd",
	"sun.tools.jstat.Jstat",
	"sun.tools.jmap.JMap",
	"-- process information unavailable",
	"org.eclipse.equinox.launcher",
}

func shouldSkipProcess(mainClass string) bool {
	mainClass = strings.TrimSpace(mainClass)
	if mainClass == "" || strings.HasPrefix(mainClass, "--") {
		return true
	}
	for _, pattern := range skipPatterns {
		if strings.Contains(mainClass, pattern) {
			return true
		}
	}
	return false
}
