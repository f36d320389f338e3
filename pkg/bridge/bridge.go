package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ethpandaops/rttmon/pkg/config"
	"github.com/ethpandaops/rttmon/pkg/docker"
	"github.com/sirupsen/logrus"
)

const (
	// lineBufferSize is the capacity of the line channel handed to the monitor.
	lineBufferSize = 256

	// maxLineLength caps a single RTT line; longer lines fail the read.
	maxLineLength = 1024 * 1024
)

// Bridge is a running probe bridge relaying RTT output as text lines.
type Bridge interface {
	// Start launches the bridge. It is called at most once.
	Start(ctx context.Context) error

	// Lines delivers stdout lines without line terminators. The channel is
	// closed when the output stream ends.
	Lines() <-chan string

	// Exited is closed once the bridge process has exited.
	Exited() <-chan struct{}

	// Err returns the stream read error, if any. Valid after Lines closes.
	Err() error

	// Stop terminates the bridge: a graceful request first, then a forced
	// kill after the configured grace period. Safe to call repeatedly and
	// before Start.
	Stop() error

	// Stats returns resource usage observed for the bridge, or nil.
	Stats() *Stats
}

// Stats describes the bridge process as observed during the run.
type Stats struct {
	Runtime      string   `json:"runtime"`
	Command      []string `json:"command"`
	PID          int      `json:"pid,omitempty"`
	ContainerID  string   `json:"container_id,omitempty"`
	ExitCode     *int     `json:"exit_code,omitempty"`
	PeakRSSBytes uint64   `json:"peak_rss_bytes,omitempty"`
	CPUSeconds   float64  `json:"cpu_seconds,omitempty"`
}

// Params identifies the target the bridge connects to.
type Params struct {
	Device    string
	Interface string
	Speed     int
}

// JLinkArgs builds the RTT client argument list for p followed by extra.
func JLinkArgs(p Params, extra []string) []string {
	args := []string{
		"-Device", p.Device,
		"-If", p.Interface,
		"-Speed", strconv.Itoa(p.Speed),
	}

	return append(args, extra...)
}

// New creates the bridge selected by cfg.Runtime.
func New(log logrus.FieldLogger, cfg *config.BridgeConfig) (Bridge, error) {
	params := Params{
		Device:    cfg.Device,
		Interface: cfg.Interface,
		Speed:     cfg.Speed,
	}

	switch cfg.Runtime {
	case "exec", "":
		return NewExecBridge(log, &ExecConfig{
			Command:   cfg.Command,
			Args:      JLinkArgs(params, cfg.ExtraArgs),
			StopGrace: cfg.StopGrace,
		}), nil
	case "docker":
		mgr, err := docker.NewManager(log)
		if err != nil {
			return nil, fmt.Errorf("creating docker manager: %w", err)
		}

		return NewDockerBridge(log, mgr, &DockerConfig{
			Image:      cfg.Docker.Image,
			PullPolicy: cfg.Docker.PullPolicy,
			Privileged: cfg.Docker.Privileged,
			Devices:    cfg.Docker.Devices,
			Args:       JLinkArgs(params, cfg.ExtraArgs),
			StopGrace:  cfg.StopGrace,
		}), nil
	default:
		return nil, fmt.Errorf("unknown bridge runtime %q", cfg.Runtime)
	}
}

// pumpLines splits r into lines and forwards them to out until r is
// exhausted or stopping is closed. Returns the scanner error, if any.
func pumpLines(r io.Reader, out chan<- string, stopping <-chan struct{}) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		select {
		case out <- line:
		case <-stopping:
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading bridge output: %w", err)
	}

	return nil
}

// relayLines pumps r into out, hands the read error to setErr and closes
// out as soon as the stream ends or fails. The rest of r is then discarded
// so the writer never blocks on a full pipe.
func relayLines(
	r io.Reader,
	out chan string,
	stopping <-chan struct{},
	setErr func(error),
) {
	err := pumpLines(r, out, stopping)

	setErr(err)
	close(out)

	_, _ = io.Copy(io.Discard, r)
}

// drainLines logs every line of r at debug level. The stream is consumed to
// EOF even when a line cannot be scanned.
func drainLines(log logrus.FieldLogger, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)

	for scanner.Scan() {
		log.WithField("stream", "stderr").Debug(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		log.WithError(err).Debug("Discarding unreadable stderr")

		_, _ = io.Copy(io.Discard, r)
	}
}
