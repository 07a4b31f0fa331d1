package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/intervue/moodline/internal/logging"
	"github.com/intervue/moodline/internal/metrics"
	"github.com/intervue/moodline/internal/types"
	"github.com/intervue/moodline/internal/utils"
	"github.com/rs/zerolog"
)

// startProcess is replaced in tests that need to stall a spawn.
var startProcess = StartProcess

// Status is a consistent copy of the supervisor's state.
type Status struct {
	State     types.WorkerState
	Alive     bool
	Pid       int
	Spawns    int // successful spawns
	Attempts  int // spawn attempts, successful or not
	Restarts  int // starts triggered by a retry or respawn timer
	LastExit  *int
	ModelPath string
}

// Supervisor owns the lifecycle of the single emotion worker process.
type Supervisor struct {
	cfg     Config
	log     zerolog.Logger
	channel *Channel

	mu         sync.Mutex
	state      types.WorkerState
	proc       *Process
	exited     chan struct{} // closed when proc has been reaped
	retryTimer *time.Timer
	spawning   bool // a StartProcess call is in flight without the lock
	stopped    bool
	spawns     int
	attempts   int
	restarts   int
	lastExit   *int
}

// NewSupervisor prepares a supervisor; nothing is spawned until Start.
func NewSupervisor(cfg Config) *Supervisor {
	cfg = cfg.withDefaults()
	log := logging.Component("emotion-worker")
	return &Supervisor{
		cfg:     cfg,
		log:     log,
		channel: NewChannel(cfg.RequestTimeout, cfg.MaxPending, log),
		state:   types.WorkerState{Kind: types.NotStarted},
	}
}

// Channel returns the request channel bound to the live process.
func (s *Supervisor) Channel() *Channel {
	return s.channel
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config {
	return s.cfg
}

// Start spawns the worker unless it is disabled, stopped or already running.
// The fork happens outside the lock, so state queries never wait on it.
func (s *Supervisor) Start() {
	s.mu.Lock()
	ok := s.beginStartLocked()
	s.mu.Unlock()
	if ok {
		s.spawn()
	}
}

// beginStartLocked moves to Starting and reports whether the caller must spawn.
func (s *Supervisor) beginStartLocked() bool {
	if s.stopped || s.spawning || s.state.Kind == types.Disabled || s.proc != nil {
		return false
	}
	if err := s.checkModel(); err != nil {
		s.disableLocked(err.Error())
		return false
	}

	s.attempts++
	s.spawning = true
	s.state = types.WorkerState{Kind: types.Starting}
	return true
}

func (s *Supervisor) spawn() {
	p, err := startProcess(s.cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.spawning = false

	if err != nil {
		metrics.RecordSpawn(false)
		if s.stopped {
			return
		}
		s.log.Error().Err(err).Dur("retry_in", s.cfg.SpawnRetryDelay).Msg("failed to spawn emotion worker")
		s.state = types.WorkerState{Kind: types.Crashed, ExitCode: -1}
		s.scheduleLocked(s.cfg.SpawnRetryDelay)
		return
	}

	metrics.RecordSpawn(true)
	s.spawns++
	if s.stopped {
		// Shutdown ran while we were forking. watch reaps it and handleExit
		// ignores it because it was never installed.
		s.log.Info().Int("pid", p.Pid()).Msg("emotion worker spawned after shutdown, killing")
		p.Stdin.Close()
		_ = p.Kill()
		go s.watch(p, make(chan struct{}))
		return
	}

	s.proc = p
	s.exited = make(chan struct{})
	s.channel.Attach(p.Stdin)
	s.log.Info().
		Int("pid", p.Pid()).
		Str("interpreter", s.cfg.Interpreter).
		Str("script", s.cfg.Script).
		Str("model", s.cfg.ModelPath).
		Msg("emotion worker spawned")

	go s.watch(p, s.exited)
}

func (s *Supervisor) checkModel() error {
	if s.cfg.ModelPath == "" {
		return errors.New("emotion model path is not configured")
	}
	if _, err := os.Stat(s.cfg.ModelPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("model not found at %s", s.cfg.ModelPath)
		}
		return fmt.Errorf("model unreadable at %s: %v", s.cfg.ModelPath, err)
	}
	return nil
}

// disableLocked is permanent for the life of this supervisor.
func (s *Supervisor) disableLocked(reason string) {
	s.state = types.WorkerState{Kind: types.Disabled, Reason: reason}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.channel.Detach()
	s.channel.FailAll(reason, metrics.OutcomeDisabled)
	metrics.WorkerDisabled.Set(1)
	s.log.Error().Str("reason", reason).Msg("emotion detection disabled")
}

// scheduleLocked arms a single delayed start. A start already pending wins.
func (s *Supervisor) scheduleLocked(delay time.Duration) {
	if s.retryTimer != nil {
		return
	}
	s.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.retryTimer = nil
		ok := s.beginStartLocked()
		if ok {
			s.restarts++
		}
		s.mu.Unlock()
		if ok {
			s.spawn()
		}
	})
}

// watch drains the process output, then reaps it. exec.Cmd.Wait closes the
// pipes, so it must not run before both readers hit EOF.
func (s *Supervisor) watch(p *Process, exited chan struct{}) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readStdout(p)
	}()
	go func() {
		defer wg.Done()
		s.readStderr(p)
	}()
	wg.Wait()

	code, err := p.Wait()
	close(exited)
	s.handleExit(p, code, err)
}

func (s *Supervisor) readStdout(p *Process) {
	lines := utils.NewLineReader(p.Stdout, s.cfg.MaxLineBytes)
	for {
		line, oversized, err := lines.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				// Replies can no longer reach us; let the exit path respawn.
				s.log.Error().Err(err).Int("pid", p.Pid()).Msg("lost worker stdout, killing worker")
				_ = p.Kill()
			}
			return
		}
		if oversized {
			s.log.Warn().Int("pid", p.Pid()).Int("limit", s.cfg.MaxLineBytes).Msg("skipped oversized worker stdout line")
			s.channel.drop(metrics.DropMalformed, nil)
			continue
		}
		if s.channel.HandleLine(line) {
			s.markReady(p)
		}
	}
}

func (s *Supervisor) readStderr(p *Process) {
	lines := utils.NewLineReader(p.Stderr, s.cfg.MaxLineBytes)
	for {
		raw, oversized, err := lines.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// Keep the pipe drained so the worker never blocks on a full stderr.
				_, _ = io.Copy(io.Discard, p.Stderr)
			}
			return
		}
		if oversized {
			s.log.Warn().Int("pid", p.Pid()).Msg("skipped oversized worker stderr line")
			continue
		}
		line := string(raw)
		p.Cmd.RecordStderr(line)
		if utils.IsErrorLine(line) {
			s.log.Error().Int("pid", p.Pid()).Str("line", line).Msg("worker stderr")
		} else {
			s.log.Debug().Int("pid", p.Pid()).Str("line", line).Msg("worker stderr")
		}
	}
}

func (s *Supervisor) markReady(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != p || s.state.Kind != types.Starting {
		return
	}
	s.state = types.WorkerState{Kind: types.Ready}
	s.log.Info().Int("pid", p.Pid()).Msg("emotion worker ready")
}

func (s *Supervisor) handleExit(p *Process, code int, waitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != p {
		return
	}
	s.proc = nil
	s.lastExit = &code
	s.channel.Detach()

	if s.stopped {
		if s.state.Kind != types.Disabled {
			s.state = types.WorkerState{Kind: types.Stopped}
		}
		return
	}

	metrics.WorkerExits.Inc()
	s.state = types.WorkerState{Kind: types.Crashed, ExitCode: code}
	s.log.Error().
		Err(waitErr).
		Int("pid", p.Pid()).
		Int("exit_code", code).
		Str("stderr_tail", p.Cmd.StderrTail()).
		Msg("emotion worker exited")

	if err := s.checkModel(); err != nil {
		s.disableLocked(err.Error())
		return
	}
	s.log.Info().Dur("respawn_in", s.cfg.RespawnDelay).Msg("scheduling emotion worker respawn")
	s.scheduleLocked(s.cfg.RespawnDelay)
}

// Shutdown stops respawning, closes the worker's stdin and waits for it to
// exit, killing it after StopTimeout or when ctx is done. Pending requests are
// settled with "worker stopped". Calling it again is a no-op.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.state.Kind != types.Disabled {
		s.state = types.WorkerState{Kind: types.Stopped}
	}
	p, exited := s.proc, s.exited
	s.channel.Detach()
	s.mu.Unlock()

	s.channel.FailAll(ErrStopped.Error(), metrics.OutcomeStopped)
	if p == nil {
		return nil
	}

	// The worker's read loop ends on stdin EOF.
	p.Stdin.Close()

	grace := time.NewTimer(s.cfg.StopTimeout)
	defer grace.Stop()
	select {
	case <-exited:
		s.log.Info().Int("pid", p.Pid()).Msg("emotion worker stopped")
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	s.log.Warn().Int("pid", p.Pid()).Msg("emotion worker did not exit, killing")
	if err := p.Kill(); err != nil {
		return fmt.Errorf("failed to kill worker %d: %w", p.Pid(), err)
	}

	reap := time.NewTimer(s.cfg.StopTimeout)
	defer reap.Stop()
	select {
	case <-exited:
		return nil
	case <-reap.C:
		return fmt.Errorf("worker %d did not exit after kill", p.Pid())
	}
}

// Disabled reports whether the worker is permanently disabled.
func (s *Supervisor) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Kind == types.Disabled
}

// DisabledReason is empty unless Disabled.
func (s *Supervisor) DisabledReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Reason
}

// Ready reports whether the live worker has produced a parseable line.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Kind == types.Ready
}

// Alive reports whether a worker process is currently running.
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() types.WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of everything the health endpoint reports.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:     s.state,
		Alive:     s.proc != nil,
		Spawns:    s.spawns,
		Attempts:  s.attempts,
		Restarts:  s.restarts,
		ModelPath: s.cfg.ModelPath,
	}
	if s.proc != nil {
		st.Pid = s.proc.Pid()
	}
	if s.lastExit != nil {
		code := *s.lastExit
		st.LastExit = &code
	}
	return st
}
