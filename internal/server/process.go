package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// stopTimeout is how long Stop waits after the interrupt before killing.
const stopTimeout = 10 * time.Second

// EngineProcess is the OS process of one engine client, as a session sees it.
type EngineProcess interface {
	Start(ctx context.Context) error
	Stop() error
	PID() int
}

// ProcessManager handles the lifecycle of a single engine client process
// and samples its resource usage.
type ProcessManager struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	proc   *process.Process
	pid    int
	port   int
	logger zerolog.Logger

	// State
	running  bool
	exitCode int
	exitErr  error
	done     chan struct{}

	// Configuration
	executable string
	args       []string
	workDir    string
	envVars    map[string]string
}

// ProcessConfig holds configuration for launching an engine client.
type ProcessConfig struct {
	Executable string
	Args       []string
	WorkDir    string
	Port       int
	EnvVars    map[string]string
}

// NewProcessManager creates a process manager for one engine client.
func NewProcessManager(cfg ProcessConfig) *ProcessManager {
	return &ProcessManager{
		port:       cfg.Port,
		executable: cfg.Executable,
		args:       cfg.Args,
		workDir:    cfg.WorkDir,
		envVars:    cfg.EnvVars,
		exitCode:   -1,
		logger: log.With().
			Str("component", "process").
			Int("port", cfg.Port).
			Logger(),
	}
}

// Start launches the process. The process is not tied to ctx; it lives
// until Stop or Kill.
func (pm *ProcessManager) Start(_ context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.running {
		return fmt.Errorf("process already running (pid: %d)", pm.pid)
	}

	pm.logger.Info().
		Str("executable", pm.executable).
		Strs("args", pm.args).
		Str("workdir", pm.workDir).
		Msg("starting engine client")

	cmd := exec.Command(pm.executable, pm.args...)
	cmd.Dir = pm.workDir
	if len(pm.envVars) > 0 {
		cmd.Env = os.Environ()
		for k, v := range pm.envVars {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	setPlatformProcessAttrs(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	pm.cmd = cmd
	pm.pid = cmd.Process.Pid
	pm.running = true
	pm.exitCode = -1
	pm.exitErr = nil
	pm.done = make(chan struct{})

	if p, err := process.NewProcess(int32(pm.pid)); err == nil {
		pm.proc = p
	}

	pm.logger.Info().Int("pid", pm.pid).Msg("engine client started")

	go pm.monitor(cmd, pm.done)
	return nil
}

// Stop asks the process to exit and kills it if it has not done so within
// stopTimeout. Stopping a process that is not running is a no-op.
func (pm *ProcessManager) Stop() error {
	pm.mu.Lock()
	if !pm.running || pm.cmd == nil {
		pm.mu.Unlock()
		return nil
	}
	cmd, done, pid := pm.cmd, pm.done, pm.pid
	pm.mu.Unlock()

	pm.logger.Info().Int("pid", pid).Msg("stopping engine client")

	// Windows has no interrupt for child processes.
	if runtime.GOOS == "windows" {
		return pm.Kill()
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		pm.logger.Warn().Err(err).Msg("graceful shutdown failed, force killing")
		return pm.Kill()
	}

	select {
	case <-done:
		pm.logger.Info().Msg("engine client stopped gracefully")
		return nil
	case <-time.After(stopTimeout):
		pm.logger.Warn().Dur("timeout", stopTimeout).Msg("engine client did not stop, force killing")
		return pm.Kill()
	}
}

// Kill immediately terminates the process.
func (pm *ProcessManager) Kill() error {
	pm.mu.Lock()
	if !pm.running || pm.cmd == nil {
		pm.mu.Unlock()
		return nil
	}
	cmd, done := pm.cmd, pm.done
	pm.mu.Unlock()

	pm.logger.Warn().Int("pid", cmd.Process.Pid).Msg("force killing engine client")

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	<-done
	return nil
}

// IsRunning returns whether the process is currently running.
func (pm *ProcessManager) IsRunning() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.running
}

// PID returns the process ID, or 0 before Start.
func (pm *ProcessManager) PID() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.pid
}

// ExitCode returns the exit code of the process (-1 if still running).
func (pm *ProcessManager) ExitCode() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.exitCode
}

// GetCPUPercent returns the CPU usage percentage of the process.
func (pm *ProcessManager) GetCPUPercent() (float64, error) {
	pm.mu.Lock()
	proc := pm.proc
	pm.mu.Unlock()

	if proc == nil {
		return 0, fmt.Errorf("process not available")
	}
	return proc.CPUPercent()
}

// GetMemoryMB returns the resident memory in megabytes.
func (pm *ProcessManager) GetMemoryMB() (float64, error) {
	pm.mu.Lock()
	proc := pm.proc
	pm.mu.Unlock()

	if proc == nil {
		return 0, fmt.Errorf("process not available")
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(memInfo.RSS) / (1024 * 1024), nil
}

// monitor waits for the process and records how it exited.
func (pm *ProcessManager) monitor(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	pm.mu.Lock()
	pm.running = false
	pm.exitErr = err
	if cmd.ProcessState != nil {
		pm.exitCode = cmd.ProcessState.ExitCode()
	}
	pid, exitCode := pm.pid, pm.exitCode
	pm.mu.Unlock()
	close(done)

	pm.logger.Info().
		Int("pid", pid).
		Int("exit_code", exitCode).
		Msg("engine client exited")
}
