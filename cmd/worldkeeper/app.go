package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/worldkeeper/worldkeeper/pkg/config"
	"github.com/worldkeeper/worldkeeper/pkg/environment"
	"github.com/worldkeeper/worldkeeper/pkg/git"
	"github.com/worldkeeper/worldkeeper/pkg/lifecycle"
	"github.com/worldkeeper/worldkeeper/pkg/log"
	"github.com/worldkeeper/worldkeeper/pkg/logs/redact"
	"github.com/worldkeeper/worldkeeper/pkg/rcon"
	"github.com/worldkeeper/worldkeeper/pkg/runtime/docker"
)

// loadConfig reads the configuration and initializes logging. Logs go to
// stderr so stdout stays machine-readable.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := log.Init(log.Config{
		Level:  log.LogLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.SetScrubber(redact.FromEnv(cfg.Secrets()...))
	return cfg, nil
}

func environmentOptions(cfg *config.Config) (environment.Options, error) {
	kind, err := environment.ParseKind(cfg.Server.Type)
	if err != nil {
		return environment.Options{}, err
	}
	return environment.Options{DefaultKind: kind, DefaultMemory: cfg.Server.Memory}, nil
}

func gitOptions(cfg *config.Config) git.Options {
	name, email := cfg.Repo.AuthorName, cfg.Repo.AuthorEmail
	if cfg.Repo.Author != "" {
		author := git.ParseAuthor(cfg.Repo.Author)
		if author.AuthorName != "" {
			name = author.AuthorName
		}
		if author.AuthorEmail != "" {
			email = author.AuthorEmail
		}
	}
	return git.Options{
		WorkDir:          cfg.WorkDir,
		StateDir:         cfg.StateDir,
		RemoteURL:        cfg.Repo.URL,
		Trunk:            cfg.Repo.Branch,
		SessionPrefix:    cfg.Repo.SessionPrefix,
		Username:         cfg.Repo.Username,
		Token:            cfg.Repo.Token,
		Author:           git.ResolveConfigFromEnv(name, email),
		Excluded:         []string{cfg.Server.PropsFile},
		AutosaveInterval: cfg.Sync.AutosaveInterval,
	}
}

func rconClient(cfg *config.Config) *rcon.Client {
	return rcon.New(rcon.Config{
		Host:     cfg.RCON.Host,
		Port:     cfg.RCON.Port,
		Password: cfg.RCON.Password,
		Timeout:  cfg.Timeouts.RCON,
	})
}

// deployment is the wired object graph for one server.
type deployment struct {
	cfg     *config.Config
	engine  *docker.DockerEngine
	runtime *docker.Manager
	rcon    *rcon.Client
	repo    *git.Controller
	ctrl    *lifecycle.Controller
}

// newDeployment validates cfg and wires the controllers.
func newDeployment(cfg *config.Config) (*deployment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	envOpts, err := environmentOptions(cfg)
	if err != nil {
		return nil, err
	}

	engine, err := docker.NewDockerEngine(cfg.Docker.Host)
	if err != nil {
		return nil, err
	}
	runtime := docker.NewManager(engine, docker.Config{
		ContainerName:  cfg.Docker.ContainerName,
		Image:          cfg.Docker.Image,
		WorkDir:        cfg.WorkDir,
		DataMount:      cfg.Docker.DataMount,
		Version:        cfg.Server.Version,
		EULA:           cfg.Server.EULA,
		ServerPort:     cfg.Server.Port,
		RCONPort:       cfg.RCON.Port,
		RCONPassword:   cfg.RCON.Password,
		PropertiesFile: cfg.Server.PropsFile,
		StopTimeout:    time.Duration(cfg.Server.StopTimeout) * time.Second,
	})
	client := rconClient(cfg)
	repo := git.NewController(gitOptions(cfg))

	ctrl := lifecycle.New(lifecycle.Config{
		WorkDir:        cfg.WorkDir,
		PropertiesFile: cfg.Server.PropsFile,
		Environment:    envOpts,
		Timeouts: lifecycle.Timeouts{
			Engine: cfg.Timeouts.Engine,
			RCON:   cfg.Timeouts.RCON,
			Git:    cfg.Timeouts.Git,
		},
		AutosaveInterval: cfg.Sync.AutosaveInterval,
		PresenceInterval: cfg.Sync.PresenceInterval,
	}, runtime, client, repo)

	return &deployment{
		cfg:     cfg,
		engine:  engine,
		runtime: runtime,
		rcon:    client,
		repo:    repo,
		ctrl:    ctrl,
	}, nil
}

// openDeployment loads the configuration, wires the deployment and attaches
// to whatever state the server is in.
func openDeployment(ctx context.Context) (*deployment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	d, err := newDeployment(cfg)
	if err != nil {
		return nil, err
	}
	if err := d.ctrl.Attach(ctx); err != nil {
		log.Warn("Attach incomplete, continuing with container state only", "tag", lifecycle.Tag(err), "error", err)
	}
	return d, nil
}

func (d *deployment) Close() {
	if err := d.engine.Close(); err != nil {
		log.Debug("failed to close docker client", "error", err)
	}
	_ = log.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// opFailed makes sure a failure names its operation and tag.
func opFailed(op string, err error) error {
	var rej *lifecycle.Rejection
	if errors.As(err, &rej) {
		return err
	}
	return fmt.Errorf("%s failed (%s): %w", op, lifecycle.Tag(err), err)
}
