package agentrpc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
)

// Launcher is the agent launcher collaborator from the external-interfaces
// contract: start exposes the child's byte streams, destroy tears it down.
// ProcessLauncher is the only implementation; tests substitute a fake.
type Launcher interface {
	Start() (stdin io.WriteCloser, stdout io.ReadCloser, stderr io.ReadCloser, err error)
	Destroy()
}

// ProcessLauncher spawns the agent as a real OS child process, adapted from
// the teacher's appsv2.AppProcess: process-group teardown via gopsutil
// rather than a bare os.Process.Kill, so orphaned descendants are reaped
// too.
type ProcessLauncher struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string

	id   string
	proc *exec.Cmd
	info *process.Process
	done chan struct{}
}

// NewProcessLauncher builds a launcher for command/args, tagging the
// instance with a fresh id for log correlation across restarts.
func NewProcessLauncher(command string, args ...string) *ProcessLauncher {
	return &ProcessLauncher{
		Command: command,
		Args:    args,
		id:      uuid.NewString(),
	}
}

func (l *ProcessLauncher) Start() (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	l.id = uuid.NewString()

	cmd := exec.Command(l.Command, l.Args...)
	if l.Dir != "" {
		cmd.Dir = l.Dir
	}
	cmd.SysProcAttr = getSysProcAttr()
	cmd.Env = os.Environ()
	for k, v := range l.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("agent stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("agent stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("agent stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("agent start: %w", err)
	}

	info, err := process.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, nil, nil, fmt.Errorf("agent process info: %w", err)
	}

	l.proc = cmd
	l.info = info
	l.done = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(l.done)
	}()

	slog.Info("agentrpc: launched agent", "id", l.id, "pid", cmd.Process.Pid, "command", l.Command)
	return stdin, stdout, stderr, nil
}

// Destroy best-effort tears down the process tree: SIGTERM every descendant,
// wait briefly, then SIGKILL survivors. Errors are swallowed per restart()'s
// contract.
func (l *ProcessLauncher) Destroy() {
	if l.proc == nil || l.proc.Process == nil {
		return
	}
	pid := l.proc.Process.Pid

	descendants, err := descendantsBottomUp(l.info)
	if err != nil || len(descendants) == 0 {
		descendants = []*process.Process{l.info}
	}

	for _, d := range descendants {
		if err := d.Terminate(); err != nil {
			slog.Debug("agentrpc: destroy SIGTERM", "pid", d.Pid, "ppid", pid, "error", err)
		}
	}

	select {
	case <-l.done:
	case <-time.After(3 * time.Second):
		for _, d := range descendants {
			exists, err := process.PidExists(d.Pid)
			if err != nil || !exists {
				continue
			}
			if err := d.Kill(); err != nil {
				slog.Debug("agentrpc: destroy SIGKILL", "pid", d.Pid, "ppid", pid, "error", err)
			}
		}
	}

	l.proc = nil
	l.info = nil
}

func descendantsBottomUp(p *process.Process) ([]*process.Process, error) {
	if p == nil {
		return nil, errors.New("agentrpc: nil process info")
	}
	var out []*process.Process
	children, err := p.Children()
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		sub, _ := descendantsBottomUp(c)
		out = append(out, sub...)
	}
	out = append(out, p)
	return out, nil
}
