package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Status is the observed container status.
type Status string

const (
	StatusAbsent  Status = "absent"
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

// PortMapping publishes one container port on the host.
type PortMapping struct {
	HostIP        string `json:"host_ip,omitempty"`
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol"`
}

func (p PortMapping) String() string {
	host := strconv.Itoa(p.HostPort)
	if p.HostIP != "" {
		host = p.HostIP + ":" + host
	}
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	return fmt.Sprintf("%s->%d/%s", host, p.ContainerPort, proto)
}

// ContainerState is the runtime manager's view of the server container.
type ContainerState struct {
	ID         string        `json:"id,omitempty"`
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Ports      []PortMapping `json:"ports,omitempty"`
	WorkDir    string        `json:"work_dir,omitempty"`
	Image      string        `json:"image,omitempty"`
	ConfigHash string        `json:"config_hash,omitempty"`
}

// Running reports whether the container process is up.
func (s ContainerState) Running() bool {
	return s.Status == StatusRunning
}

// LogOptions selects container log output.
type LogOptions struct {
	Tail       string // "all" or a line count
	Follow     bool
	Timestamps bool
}

// Engine is the subset of the container engine the manager drives.
// Inspect of a missing container returns StatusAbsent and no error.
type Engine interface {
	Ping(ctx context.Context) error
	Inspect(ctx context.Context, name string) (ContainerState, error)
	PullImage(ctx context.Context, ref string) error
	Create(ctx context.Context, spec *Spec) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Remove(ctx context.Context, id string) error
	Logs(ctx context.Context, id string, opts LogOptions, w io.Writer) error
	Close() error
}

// DockerEngine implements Engine with the Docker Engine API.
type DockerEngine struct {
	cli *client.Client
}

// NewDockerEngine connects using DOCKER_HOST and friends, or host when set.
func NewDockerEngine(host string) (*DockerEngine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return &DockerEngine{cli: cli}, nil
}

func (e *DockerEngine) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	return err
}

func (e *DockerEngine) Inspect(ctx context.Context, name string) (ContainerState, error) {
	resp, err := e.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ContainerState{Name: name, Status: StatusAbsent}, nil
		}
		return ContainerState{}, err
	}

	state := ContainerState{
		ID:     resp.ID,
		Name:   strings.TrimPrefix(resp.Name, "/"),
		Status: StatusCreated,
	}
	if resp.State != nil {
		state.Status = normalizeStatus(string(resp.State.Status))
	}
	if resp.Config != nil {
		state.Image = resp.Config.Image
		state.ConfigHash = resp.Config.Labels[LabelConfigHash]
		state.WorkDir = resp.Config.Labels[LabelWorkDir]
	}
	if resp.HostConfig != nil {
		for port, bindings := range resp.HostConfig.PortBindings {
			for _, b := range bindings {
				hostPort, _ := strconv.Atoi(b.HostPort)
				state.Ports = append(state.Ports, PortMapping{
					HostIP:        b.HostIP,
					HostPort:      hostPort,
					ContainerPort: port.Int(),
					Protocol:      port.Proto(),
				})
			}
		}
	}
	return state, nil
}

func normalizeStatus(s string) Status {
	switch s {
	case "running", "restarting", "paused":
		return StatusRunning
	case "created":
		return StatusCreated
	default:
		return StatusExited
	}
}

func (e *DockerEngine) PullImage(ctx context.Context, ref string) error {
	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (e *DockerEngine) Create(ctx context.Context, spec *Spec) (string, error) {
	cfg, err := BuildContainerConfig(spec)
	if err != nil {
		return "", err
	}
	hostCfg, err := BuildContainerHostConfig(spec)
	if err != nil {
		return "", err
	}
	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e *DockerEngine) Start(ctx context.Context, id string) error {
	return e.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (e *DockerEngine) Stop(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout / time.Second)
	return e.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
}

func (e *DockerEngine) Remove(ctx context.Context, id string) error {
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (e *DockerEngine) Logs(ctx context.Context, id string, opts LogOptions, w io.Writer) error {
	tail := opts.Tail
	if tail == "" {
		tail = "all"
	}
	out, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       tail,
		Timestamps: opts.Timestamps,
	})
	if err != nil {
		return err
	}
	defer out.Close()

	// Non-TTY containers multiplex stdout and stderr.
	_, err = stdcopy.StdCopy(w, w, out)
	return err
}

func (e *DockerEngine) Close() error {
	return e.cli.Close()
}
