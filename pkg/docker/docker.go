package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
)

// ManagedByLabel marks containers created by rttmon.
const ManagedByLabel = "rttmon.managed-by"

// Manager handles the Docker operations needed to run a probe bridge image.
type Manager interface {
	Start(ctx context.Context) error
	Stop() error

	// Container operations.
	CreateContainer(ctx context.Context, spec *ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error
	RemoveContainer(ctx context.Context, containerID string) error
	ListContainers(ctx context.Context) ([]ContainerInfo, error)

	// Log streaming.
	StreamLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error

	// Image operations.
	PullImage(ctx context.Context, imageName string, policy string) error

	// WaitForContainerExit returns channels that signal when a container exits.
	// The statusCh receives the exit code, errCh receives any wait errors.
	WaitForContainerExit(ctx context.Context, containerID string) (<-chan int64, <-chan error)

	// ContainerStats returns a one-shot resource usage sample.
	ContainerStats(ctx context.Context, containerID string) (*ContainerStats, error)
}

// ContainerInfo describes a container created by rttmon.
type ContainerInfo struct {
	ID     string
	Name   string
	Labels map[string]string
}

// ContainerStats is a point-in-time resource usage sample of a container.
type ContainerStats struct {
	MemoryBytes uint64
	// CPUNanos is the cumulative CPU time consumed by the container.
	CPUNanos uint64
}

// ContainerSpec defines container configuration.
type ContainerSpec struct {
	Name       string
	Image      string
	Command    []string
	Labels     map[string]string
	Privileged bool
	// Devices are host device paths passed through with identical
	// in-container paths, e.g. /dev/bus/usb.
	Devices []string
}

// NewManager creates a new Docker manager.
func NewManager(log logrus.FieldLogger) (Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	return &manager{
		log:    log.WithField("component", "docker"),
		client: cli,
	}, nil
}

type manager struct {
	log    logrus.FieldLogger
	client *client.Client
}

// Ensure interface compliance.
var _ Manager = (*manager)(nil)

// Start initializes the Docker manager.
func (m *manager) Start(ctx context.Context) error {
	_, err := m.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("connecting to docker daemon: %w", err)
	}

	m.log.Debug("Connected to Docker daemon")

	return nil
}

// Stop cleans up the Docker manager.
func (m *manager) Stop() error {
	if err := m.client.Close(); err != nil {
		return fmt.Errorf("closing docker client: %w", err)
	}

	return nil
}

// CreateContainer creates a new container from the spec.
func (m *manager) CreateContainer(ctx context.Context, spec *ContainerSpec) (string, error) {
	log := m.log.WithField("container", spec.Name)

	labels := make(map[string]string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		labels[k] = v
	}

	labels[ManagedByLabel] = "rttmon"

	devices := make([]container.DeviceMapping, 0, len(spec.Devices))
	for _, dev := range spec.Devices {
		devices = append(devices, container.DeviceMapping{
			PathOnHost:        dev,
			PathInContainer:   dev,
			CgroupPermissions: "rwm",
		})
	}

	containerCfg := &container.Config{
		Image:  spec.Image,
		Labels: labels,
		Cmd:    spec.Command,
	}

	hostCfg := &container.HostConfig{
		Privileged: spec.Privileged,
		Resources: container.Resources{
			Devices: devices,
		},
	}

	resp, err := m.client.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	log.WithField("id", shortID(resp.ID)).Debug("Created container")

	return resp.ID, nil
}

// StartContainer starts a container.
func (m *manager) StartContainer(ctx context.Context, containerID string) error {
	if err := m.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", shortID(containerID), err)
	}

	m.log.WithField("id", shortID(containerID)).Debug("Started container")

	return nil
}

// StopContainer sends SIGTERM to a container and kills it once
// timeoutSeconds have elapsed.
func (m *manager) StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error {
	if err := m.client.ContainerStop(ctx, containerID, container.StopOptions{
		Timeout: &timeoutSeconds,
	}); err != nil {
		return fmt.Errorf("stopping container %s: %w", shortID(containerID), err)
	}

	m.log.WithField("id", shortID(containerID)).Debug("Stopped container")

	return nil
}

// RemoveContainer removes a container.
func (m *manager) RemoveContainer(ctx context.Context, containerID string) error {
	if err := m.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force: true,
	}); err != nil {
		return fmt.Errorf("removing container %s: %w", shortID(containerID), err)
	}

	m.log.WithField("id", shortID(containerID)).Debug("Removed container")

	return nil
}

// StreamLogs streams container logs to the provided writers until the
// container exits or ctx is cancelled.
func (m *manager) StreamLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	}

	reader, err := m.client.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return fmt.Errorf("getting container logs: %w", err)
	}
	defer func() { _ = reader.Close() }()

	_, err = stdcopy.StdCopy(stdout, stderr, reader)
	if err != nil && err != io.EOF {
		return fmt.Errorf("copying logs: %w", err)
	}

	return nil
}

// Image pull policies.
const (
	PullAlways       = "always"
	PullIfNotPresent = "if-not-present"
	PullNever        = "never"
)

// PullImage makes imageName available locally according to policy.
func (m *manager) PullImage(ctx context.Context, imageName string, policy string) error {
	log := m.log.WithFields(logrus.Fields{
		"image":  imageName,
		"policy": policy,
	})

	switch policy {
	case PullNever:
		log.Debug("Skipping image pull")

		return nil
	case PullIfNotPresent:
		images, err := m.client.ImageList(ctx, image.ListOptions{
			Filters: filters.NewArgs(filters.Arg("reference", imageName)),
		})
		if err != nil {
			return fmt.Errorf("listing images: %w", err)
		}

		if len(images) > 0 {
			log.Debug("Image present locally")

			return nil
		}
	case PullAlways:
	default:
		return fmt.Errorf("unknown pull policy %q", policy)
	}

	log.Info("Pulling bridge image")

	reader, err := m.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	defer func() { _ = reader.Close() }()

	if err := drainPullProgress(log, reader); err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}

	log.Info("Bridge image pulled")

	return nil
}

// drainPullProgress consumes the JSON progress stream of an image pull.
// The daemon reports registry failures in-band, so an error message in the
// stream fails the pull.
func drainPullProgress(log logrus.FieldLogger, r io.Reader) error {
	dec := json.NewDecoder(r)

	var last string

	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading pull response: %w", err)
		}

		if msg.Error != nil {
			return msg.Error
		}

		if msg.Status != "" && msg.Status != last {
			last = msg.Status
			log.WithField("layer", msg.ID).Debug(msg.Status)
		}
	}
}

// WaitForContainerExit returns channels that signal when a container exits.
// The statusCh receives the exit code, errCh receives any wait errors.
func (m *manager) WaitForContainerExit(
	ctx context.Context,
	containerID string,
) (<-chan int64, <-chan error) {
	statusCh := make(chan int64, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(statusCh)
		defer close(errCh)

		waitStatusCh, waitErrCh := m.client.ContainerWait(
			ctx, containerID, container.WaitConditionNotRunning,
		)

		select {
		case status := <-waitStatusCh:
			statusCh <- status.StatusCode
		case err := <-waitErrCh:
			errCh <- err
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()

	return statusCh, errCh
}

// ListContainers returns all containers, running or not, created by rttmon.
func (m *manager) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	containers, err := m.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedByLabel+"=rttmon")),
	})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		var name string
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		result = append(result, ContainerInfo{
			ID:     c.ID,
			Name:   name,
			Labels: c.Labels,
		})
	}

	return result, nil
}

// ContainerStats reads one-shot container stats from the Docker Stats API.
func (m *manager) ContainerStats(ctx context.Context, containerID string) (*ContainerStats, error) {
	resp, err := m.client.ContainerStats(ctx, containerID, false)
	if err != nil {
		return nil, fmt.Errorf("getting container stats: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding stats response: %w", err)
	}

	return &ContainerStats{
		MemoryBytes: raw.MemoryStats.Usage,
		CPUNanos:    raw.CPUStats.CPUUsage.TotalUsage,
	}, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}

	return id
}
