package worker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/intervue/moodline/internal/utils" // Using the SafeCommand wrapper
)

// Config describes how to run the emotion worker and how patient to be with it.
type Config struct {
	// ModelPath must exist before every spawn; a missing model disables the worker.
	ModelPath string
	// Script is appended after InterpreterArgs when non-empty.
	Script string
	// Interpreter is the executable, python3 unless overridden.
	Interpreter     string
	InterpreterArgs []string
	// Mode is forwarded as EMOTION_MODE (cascade, direct or hybrid).
	Mode string
	// Env holds extra KEY=VALUE pairs for the child.
	Env []string
	// Dir is the child's working directory; empty inherits ours.
	Dir string

	RequestTimeout  time.Duration
	RespawnDelay    time.Duration
	SpawnRetryDelay time.Duration
	StopTimeout     time.Duration
	// MaxPending caps in-flight requests; further sends get "worker saturated".
	MaxPending int
	// MaxLineBytes bounds one output line; longer lines are skipped as noise.
	MaxLineBytes int
}

// Default timings mirror what the interview UI expects at ~1 frame per second.
const (
	DefaultRequestTimeout  = 6 * time.Second
	DefaultRespawnDelay    = 5 * time.Second
	DefaultSpawnRetryDelay = 10 * time.Second
	DefaultStopTimeout     = 2 * time.Second
	DefaultMaxPending      = 32
	// The worker's debug arrays can be large.
	DefaultMaxLineBytes = 16 * 1024 * 1024
)

func (c Config) withDefaults() Config {
	if c.Interpreter == "" {
		c.Interpreter = "python3"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RespawnDelay <= 0 {
		c.RespawnDelay = DefaultRespawnDelay
	}
	if c.SpawnRetryDelay <= 0 {
		c.SpawnRetryDelay = DefaultSpawnRetryDelay
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = DefaultMaxLineBytes
	}
	return c
}

// args returns the child's argv after the executable.
func (c Config) args() []string {
	args := append([]string{}, c.InterpreterArgs...)
	if c.Script != "" {
		args = append(args, c.Script)
	}
	return args
}

// Process is one running worker with its three standard streams piped.
type Process struct {
	Cmd    *utils.SafeCommand
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// StartProcess spawns the worker described by cfg.
func StartProcess(cfg Config) (*Process, error) {
	py := utils.NewSafeCommand(cfg.Interpreter, cfg.args()...)
	py.Dir = cfg.Dir
	py.Env = append(os.Environ(), "EMOTION_MODEL_PATH="+cfg.ModelPath)
	if cfg.Mode != "" {
		py.Env = append(py.Env, "EMOTION_MODE="+cfg.Mode)
	}
	py.Env = append(py.Env, cfg.Env...)

	stdin, err := py.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := py.StdoutPipe()
	if err != nil {
		stdin.Close() // Prevent FD leak
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := py.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	// Start closes the pipes itself if it fails.
	if err := py.Start(); err != nil {
		return nil, fmt.Errorf("worker %s failed to start: %w", cfg.Interpreter, err)
	}

	return &Process{
		Cmd:    py,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	}, nil
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	if p.Cmd.Process == nil {
		return 0
	}
	return p.Cmd.Process.Pid
}

// Wait reaps the process and returns its exit code. It must only be called
// once both Stdout and Stderr have been read to EOF.
func (p *Process) Wait() (int, error) {
	err := p.Cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1 when killed by a signal
		return exitErr.ExitCode(), err
	}
	return -1, err
}

// Kill terminates the process immediately.
func (p *Process) Kill() error {
	if p.Cmd.Process == nil {
		return nil
	}
	err := p.Cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
