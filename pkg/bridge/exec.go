package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

// statsInterval is how often bridge resource usage is sampled.
const statsInterval = time.Second

// ExecConfig configures a bridge running as a local child process.
type ExecConfig struct {
	Command   string
	Args      []string
	StopGrace time.Duration
}

// NewExecBridge creates a bridge that runs cfg.Command as a child process.
func NewExecBridge(log logrus.FieldLogger, cfg *ExecConfig) Bridge {
	return &execBridge{
		log:      log.WithField("component", "bridge"),
		cfg:      cfg,
		lines:    make(chan string, lineBufferSize),
		exited:   make(chan struct{}),
		stopping: make(chan struct{}),
		stats: Stats{
			Runtime: "exec",
			Command: append([]string{cfg.Command}, cfg.Args...),
		},
	}
}

type execBridge struct {
	log     logrus.FieldLogger
	cfg     *ExecConfig
	cmd     *exec.Cmd
	outputs []*os.File

	lines    chan string
	exited   chan struct{}
	stopping chan struct{}

	mu      sync.Mutex
	readErr error
	stats   Stats

	stopOnce sync.Once
	stopErr  error
}

// Ensure interface compliance.
var _ Bridge = (*execBridge)(nil)

// Start implements Bridge.
func (b *execBridge) Start(ctx context.Context) error {
	// The process lifetime is governed by Stop, not by ctx.
	cmd := exec.Command(b.cfg.Command, b.cfg.Args...)

	// Plain pipes keep process exit independent of output EOF: a grandchild
	// holding the write end must not hide the bridge exiting.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)

		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)

		return fmt.Errorf("starting %s: %w", b.cfg.Command, err)
	}

	// The child owns the write ends now.
	closeAll(stdoutW, stderrW)

	b.cmd = cmd
	b.outputs = []*os.File{stdoutR, stderrR}

	b.mu.Lock()
	b.stats.PID = cmd.Process.Pid
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{
		"command": b.cfg.Command,
		"args":    b.cfg.Args,
		"pid":     cmd.Process.Pid,
	}).Info("Started probe bridge")

	go relayLines(stdoutR, b.lines, b.stopping, b.setReadErr)

	go drainLines(b.log, stderrR)

	go func() {
		waitErr := cmd.Wait()
		b.recordExit(waitErr)

		close(b.exited)
	}()

	go b.sample(ctx, cmd.Process.Pid)

	return nil
}

func (b *execBridge) setReadErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.readErr = err
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// Lines implements Bridge.
func (b *execBridge) Lines() <-chan string {
	return b.lines
}

// Exited implements Bridge.
func (b *execBridge) Exited() <-chan struct{} {
	return b.exited
}

// Err implements Bridge.
func (b *execBridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.readErr
}

// Stats implements Bridge.
func (b *execBridge) Stats() *Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stats

	return &s
}

// Stop implements Bridge.
func (b *execBridge) Stop() error {
	b.stopOnce.Do(func() {
		b.stopErr = b.stop()
	})

	return b.stopErr
}

func (b *execBridge) stop() error {
	close(b.stopping)

	if b.cmd == nil {
		return nil
	}

	// Unblock output readers still attached to pipes inherited by
	// descendants of the bridge.
	defer closeAll(b.outputs...)

	select {
	case <-b.exited:
		return nil
	default:
	}

	log := b.log.WithField("pid", b.cmd.Process.Pid)

	if err := b.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return b.waitExited(b.cfg.StopGrace)
		}

		log.WithError(err).Debug("Terminate signal failed, killing")
	} else if err := b.waitExited(b.cfg.StopGrace); err == nil {
		log.Info("Probe bridge stopped")

		return nil
	}

	log.Warn("Probe bridge did not exit in time, killing")

	if err := b.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing bridge: %w", err)
	}

	return b.waitExited(b.cfg.StopGrace)
}

// waitExited waits up to grace for the process to be reaped.
func (b *execBridge) waitExited(grace time.Duration) error {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-b.exited:
		return nil
	case <-timer.C:
		return fmt.Errorf("bridge still running after %s", grace)
	}
}

func (b *execBridge) recordExit(waitErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmd.ProcessState != nil {
		code := b.cmd.ProcessState.ExitCode()
		b.stats.ExitCode = &code
	}

	b.log.WithFields(logrus.Fields{
		"exit_code": b.stats.ExitCode,
	}).WithError(waitErr).Debug("Probe bridge exited")
}

// sample polls resource usage of the bridge process until it exits.
func (b *execBridge) sample(ctx context.Context, pid int) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		b.log.WithError(err).Debug("Bridge resource sampling unavailable")

		return
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		b.sampleOnce(ctx, proc)

		select {
		case <-b.exited:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *execBridge) sampleOnce(ctx context.Context, proc *process.Process) {
	mem, memErr := proc.MemoryInfoWithContext(ctx)
	times, cpuErr := proc.TimesWithContext(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if memErr == nil && mem.RSS > b.stats.PeakRSSBytes {
		b.stats.PeakRSSBytes = mem.RSS
	}

	if cpuErr == nil {
		b.stats.CPUSeconds = times.User + times.System
	}
}
