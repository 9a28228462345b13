// Package docker manages the single game-server container: it derives the
// container spec from the desired environment, recreates the container when
// that spec changes, and starts and stops it idempotently.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/worldkeeper/worldkeeper/pkg/environment"
	"github.com/worldkeeper/worldkeeper/pkg/log"
	"github.com/worldkeeper/worldkeeper/pkg/properties"
)

var (
	// ErrRuntimeUnavailable wraps every container engine failure.
	ErrRuntimeUnavailable = errors.New("runtime unavailable")
	// ErrContainerAbsent is returned by Start before EnsureContainer.
	ErrContainerAbsent = errors.New("container does not exist")
)

// DefaultStopTimeout is the graceful shutdown window.
const DefaultStopTimeout = 30 * time.Second

// Config describes the managed container.
type Config struct {
	ContainerName  string
	Image          string
	WorkDir        string // host server directory
	DataMount      string
	Version        string
	EULA           bool
	ServerPort     int
	RCONPort       int
	RCONPassword   string
	PropertiesFile string // relative to WorkDir
	StopTimeout    time.Duration
}

// Manager owns the container state.
type Manager struct {
	engine Engine
	cfg    Config
}

// NewManager creates a Manager driving engine.
func NewManager(engine Engine, cfg Config) *Manager {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.DataMount == "" {
		cfg.DataMount = ContainerDataDir
	}
	if cfg.PropertiesFile == "" {
		cfg.PropertiesFile = properties.FileName
	}
	return &Manager{engine: engine, cfg: cfg}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrRuntimeUnavailable, op, err)
}

// Spec computes the container spec for desired. It is pure.
func (m *Manager) Spec(desired environment.Desired) *Spec {
	spec := &Spec{
		Name:  m.cfg.ContainerName,
		Image: m.cfg.Image,
		Env: BuildContainerEnv(&EnvConfig{
			Desired:      desired,
			Version:      m.cfg.Version,
			EULA:         m.cfg.EULA,
			DataMount:    m.cfg.DataMount,
			RCONPassword: m.cfg.RCONPassword,
			RCONPort:     m.cfg.RCONPort,
			ServerPort:   m.cfg.ServerPort,
		}),
		WorkDir:   m.cfg.WorkDir,
		DataMount: m.cfg.DataMount,
		Ports: []PortMapping{
			{HostPort: m.cfg.ServerPort, ContainerPort: m.cfg.ServerPort, Protocol: "tcp"},
			{HostIP: "127.0.0.1", HostPort: m.cfg.RCONPort, ContainerPort: m.cfg.RCONPort, Protocol: "tcp"},
		},
		Labels: map[string]string{
			LabelManaged: "true",
			LabelWorkDir: m.cfg.WorkDir,
		},
		RestartPolicy: "unless-stopped",
	}
	spec.Labels[LabelConfigHash] = ConfigHash(spec)
	return spec
}

// EnsureContainer makes the container match desired. An absent container is
// created; a container with a different config hash is stopped, removed and
// recreated; a matching one is left alone.
func (m *Manager) EnsureContainer(ctx context.Context, desired environment.Desired) (ContainerState, error) {
	spec := m.Spec(desired)
	hash := spec.Labels[LabelConfigHash]

	state, err := m.engine.Inspect(ctx, spec.Name)
	if err != nil {
		return ContainerState{}, unavailable("inspect", err)
	}

	switch {
	case state.Status == StatusAbsent:
		log.Info("Creating server container", "container", spec.Name, "image", spec.Image)
	case state.ConfigHash == hash:
		log.Debug("Container up to date", "container", spec.Name, "hash", hash)
		return state, nil
	default:
		log.Info("Container configuration changed, recreating",
			"container", spec.Name, "old_hash", state.ConfigHash, "new_hash", hash)
		if state.Running() {
			if err := m.engine.Stop(ctx, state.ID, m.cfg.StopTimeout); err != nil {
				return state, unavailable("stop", err)
			}
		}
		if err := m.engine.Remove(ctx, state.ID); err != nil {
			return state, unavailable("remove", err)
		}
	}

	if err := m.engine.PullImage(ctx, spec.Image); err != nil {
		// A cached image is still usable.
		log.Warn("Failed to pull image", "image", spec.Image, "error", err)
	}
	if _, err := m.engine.Create(ctx, spec); err != nil {
		return ContainerState{Name: spec.Name, Status: StatusAbsent}, unavailable("create", err)
	}
	return m.Status(ctx)
}

// PrepareStart pins RCON and the server port in server.properties and
// accepts the EULA when configured.
func (m *Manager) PrepareStart() error {
	path := filepath.Join(m.cfg.WorkDir, m.cfg.PropertiesFile)
	changed, err := properties.ApplyRemoteAccess(path, properties.RemoteAccess{
		RCONPassword: m.cfg.RCONPassword,
		RCONPort:     m.cfg.RCONPort,
		ServerPort:   m.cfg.ServerPort,
	})
	if err != nil {
		return err
	}
	if changed {
		log.Debug("Updated server properties", "path", path)
	}
	if m.cfg.EULA {
		if err := properties.WriteEULA(m.cfg.WorkDir); err != nil {
			return err
		}
	}
	return nil
}

// Start starts the container. Starting a running container is a no-op.
func (m *Manager) Start(ctx context.Context) (ContainerState, error) {
	state, err := m.Status(ctx)
	if err != nil {
		return state, err
	}
	switch state.Status {
	case StatusAbsent:
		return state, ErrContainerAbsent
	case StatusRunning:
		return state, nil
	}

	if err := m.PrepareStart(); err != nil {
		return state, fmt.Errorf("failed to prepare server directory: %w", err)
	}
	if err := m.engine.Start(ctx, state.ID); err != nil {
		return state, unavailable("start", err)
	}
	log.Info("Server container started", "container", state.Name)
	return m.Status(ctx)
}

// Stop stops the container gracefully. Stopping an absent or stopped
// container is a no-op.
func (m *Manager) Stop(ctx context.Context) (ContainerState, error) {
	state, err := m.Status(ctx)
	if err != nil {
		return state, err
	}
	if !state.Running() {
		return state, nil
	}
	if err := m.engine.Stop(ctx, state.ID, m.cfg.StopTimeout); err != nil {
		return state, unavailable("stop", err)
	}
	log.Info("Server container stopped", "container", state.Name)
	return m.Status(ctx)
}

// Status inspects the container.
func (m *Manager) Status(ctx context.Context) (ContainerState, error) {
	state, err := m.engine.Inspect(ctx, m.cfg.ContainerName)
	if err != nil {
		return ContainerState{Name: m.cfg.ContainerName}, unavailable("inspect", err)
	}
	return state, nil
}

// Remove stops and deletes the container.
func (m *Manager) Remove(ctx context.Context) error {
	state, err := m.Stop(ctx)
	if err != nil {
		return err
	}
	if state.Status == StatusAbsent {
		return nil
	}
	if err := m.engine.Remove(ctx, state.ID); err != nil {
		return unavailable("remove", err)
	}
	log.Info("Server container removed", "container", state.Name)
	return nil
}

// Logs copies container output to w.
func (m *Manager) Logs(ctx context.Context, opts LogOptions, w io.Writer) error {
	state, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if state.Status == StatusAbsent {
		return ErrContainerAbsent
	}
	if err := m.engine.Logs(ctx, state.ID, opts, w); err != nil {
		return unavailable("logs", err)
	}
	return nil
}

// Ping checks that the engine answers.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.engine.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
