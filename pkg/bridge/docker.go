package bridge

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/ethpandaops/rttmon/pkg/docker"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DockerConfig configures a bridge running inside a container.
type DockerConfig struct {
	Image      string
	PullPolicy string
	Privileged bool
	Devices    []string
	Args       []string
	StopGrace  time.Duration
}

// NewDockerBridge creates a bridge that runs the RTT client in a container
// managed through mgr. The image entrypoint is expected to be the client.
func NewDockerBridge(log logrus.FieldLogger, mgr docker.Manager, cfg *DockerConfig) Bridge {
	return &dockerBridge{
		log:      log.WithField("component", "bridge"),
		mgr:      mgr,
		cfg:      cfg,
		name:     "rttmon-" + uuid.NewString()[:8],
		interval: statsInterval,
		lines:    make(chan string, lineBufferSize),
		exited:   make(chan struct{}),
		stopping: make(chan struct{}),
		stats: Stats{
			Runtime: "docker",
			Command: append([]string{cfg.Image}, cfg.Args...),
		},
	}
}

type dockerBridge struct {
	log      logrus.FieldLogger
	mgr      docker.Manager
	cfg      *DockerConfig
	name     string
	interval time.Duration

	containerID string
	cancel      context.CancelFunc

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
var _ Bridge = (*dockerBridge)(nil)

// Start implements Bridge.
func (b *dockerBridge) Start(ctx context.Context) error {
	if err := b.mgr.Start(ctx); err != nil {
		return err
	}

	if err := b.mgr.PullImage(ctx, b.cfg.Image, b.cfg.PullPolicy); err != nil {
		return fmt.Errorf("pulling bridge image: %w", err)
	}

	containerID, err := b.mgr.CreateContainer(ctx, &docker.ContainerSpec{
		Name:       b.name,
		Image:      b.cfg.Image,
		Command:    b.cfg.Args,
		Privileged: b.cfg.Privileged,
		Devices:    b.cfg.Devices,
	})
	if err != nil {
		return fmt.Errorf("creating bridge container: %w", err)
	}

	b.containerID = containerID

	b.mu.Lock()
	b.stats.ContainerID = containerID
	b.mu.Unlock()

	if err := b.mgr.StartContainer(ctx, containerID); err != nil {
		return fmt.Errorf("starting bridge container: %w", err)
	}

	b.log.WithFields(logrus.Fields{
		"image":     b.cfg.Image,
		"container": b.name,
	}).Info("Started probe bridge container")

	// The container lifetime is governed by Stop, not by ctx.
	streamCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	go func() {
		err := b.mgr.StreamLogs(streamCtx, containerID, stdoutW, stderrW)
		_ = stdoutW.CloseWithError(err)
		_ = stderrW.CloseWithError(err)
	}()

	go func() {
		relayLines(stdoutR, b.lines, b.stopping, b.setReadErr)
		_ = stdoutR.Close()
	}()

	go func() {
		drainLines(b.log, stderrR)
		_ = stderrR.Close()
	}()

	go b.sampleStats(streamCtx, containerID)

	go func() {
		statusCh, errCh := b.mgr.WaitForContainerExit(streamCtx, containerID)

		select {
		case code, ok := <-statusCh:
			if ok {
				b.recordExit(code)
			}
		case err := <-errCh:
			if err != nil {
				b.log.WithError(err).Debug("Waiting for bridge container failed")
			}
		}

		close(b.exited)
	}()

	return nil
}

// Lines implements Bridge.
func (b *dockerBridge) Lines() <-chan string {
	return b.lines
}

// Exited implements Bridge.
func (b *dockerBridge) Exited() <-chan struct{} {
	return b.exited
}

// Err implements Bridge.
func (b *dockerBridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.readErr
}

// Stats implements Bridge.
func (b *dockerBridge) Stats() *Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stats

	return &s
}

// Stop implements Bridge.
func (b *dockerBridge) Stop() error {
	b.stopOnce.Do(func() {
		b.stopErr = b.stop()
	})

	return b.stopErr
}

func (b *dockerBridge) stop() error {
	close(b.stopping)

	defer func() {
		if err := b.mgr.Stop(); err != nil {
			b.log.WithError(err).Debug("Closing docker client failed")
		}
	}()

	if b.containerID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*b.cfg.StopGrace+10*time.Second)
	defer cancel()

	var stopErr error

	graceSeconds := int(math.Ceil(b.cfg.StopGrace.Seconds()))
	if err := b.mgr.StopContainer(ctx, b.containerID, graceSeconds); err != nil {
		stopErr = err
	}

	if b.cancel != nil {
		timer := time.NewTimer(b.cfg.StopGrace)

		select {
		case <-b.exited:
		case <-timer.C:
			// Unblock the log stream and exit wait.
			b.cancel()
			<-b.exited
		}

		timer.Stop()
		b.cancel()
	}

	if err := b.mgr.RemoveContainer(ctx, b.containerID); err != nil && stopErr == nil {
		stopErr = err
	}

	if stopErr == nil {
		b.log.WithField("container", b.name).Info("Probe bridge container stopped")
	}

	return stopErr
}

func (b *dockerBridge) setReadErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.readErr = err
}

func (b *dockerBridge) recordExit(code int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	exitCode := int(code)
	b.stats.ExitCode = &exitCode

	b.log.WithField("exit_code", exitCode).Debug("Probe bridge container exited")
}

// sampleStats records peak memory and cumulative CPU time of the container
// until it exits or the bridge is stopped.
func (b *dockerBridge) sampleStats(ctx context.Context, containerID string) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopping:
			return
		case <-b.exited:
			return
		case <-ticker.C:
		}

		sample, err := b.mgr.ContainerStats(ctx, containerID)
		if err != nil {
			b.log.WithError(err).Debug("Sampling bridge container stats failed")

			continue
		}

		b.mu.Lock()
		b.stats.PeakRSSBytes = max(b.stats.PeakRSSBytes, sample.MemoryBytes)
		b.stats.CPUSeconds = float64(sample.CPUNanos) / float64(time.Second)
		b.mu.Unlock()
	}
}
