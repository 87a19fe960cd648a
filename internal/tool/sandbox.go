package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/cobaltfox/aria/internal/config"
)

const maxSandboxOutput = 16 * 1024

// Sandbox runs shell commands in a fresh constrained process per call:
// rlimits via a ulimit prefix, a hard wall-clock timeout, process-group
// teardown so children die with the parent, and optionally no network.
type Sandbox struct {
	timeout    time.Duration
	cpuSeconds int
	memoryMB   int
	noNetwork  bool
	workDir    string
}

func NewSandbox(cfg config.SandboxConfig) *Sandbox {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sandbox{
		timeout:    timeout,
		cpuSeconds: cfg.CPUSeconds,
		memoryMB:   cfg.MemoryMB,
		noNetwork:  cfg.DisableNetwork,
		workDir:    cfg.WorkDir,
	}
}

// Run executes command under sh -c and returns combined output. A timeout or
// kill is reported as an error alongside whatever output was captured.
func (s *Sandbox) Run(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("sandbox: empty command")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	name, args := s.buildCommand(command)
	cmd := exec.CommandContext(runCtx, name, args...)
	if s.workDir != "" {
		cmd.Dir = s.workDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	var out bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &out, max: maxSandboxOutput}
	cmd.Stderr = cmd.Stdout

	err := cmd.Run()
	output := out.String()
	if runCtx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("sandbox: command timed out after %s", s.timeout)
	}
	if err != nil {
		return output, fmt.Errorf("sandbox: %w", err)
	}
	return output, nil
}

// buildCommand wraps the user command with rlimit setup, and with unshare -n
// when network access is disabled.
func (s *Sandbox) buildCommand(command string) (string, []string) {
	var prefix strings.Builder
	if s.cpuSeconds > 0 {
		fmt.Fprintf(&prefix, "ulimit -t %d; ", s.cpuSeconds)
	}
	if s.memoryMB > 0 {
		fmt.Fprintf(&prefix, "ulimit -v %d; ", s.memoryMB*1024)
	}
	wrapped := prefix.String() + command
	if s.noNetwork {
		return "unshare", []string{"-n", "sh", "-c", wrapped}
	}
	return "sh", []string{"-c", wrapped}
}

// killProcessGroup takes down the command's whole process group. Children
// spawned by the shell would otherwise outlive a timeout.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err == nil {
			return nil
		}
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// limitedWriter caps captured output; excess is dropped, not an error.
type limitedWriter struct {
	w   *bytes.Buffer
	max int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.w.Len() >= l.max {
		return len(p), nil
	}
	if room := l.max - l.w.Len(); len(p) > room {
		l.w.Write(p[:room])
		return len(p), nil
	}
	return l.w.Write(p)
}
