// Package lifecycle composes the container runtime, the RCON client and the
// repository sync controller into the server lifecycle: start, stop behind a
// player-presence gate, restart, save, and the background autosave and
// presence loops.
//
// A Controller serializes every operation with one mutex. Step contexts are
// detached from the caller's cancellation so a started sequence always runs
// to completion or to its own timeout.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/worldkeeper/worldkeeper/pkg/environment"
	"github.com/worldkeeper/worldkeeper/pkg/git"
	"github.com/worldkeeper/worldkeeper/pkg/log"
	"github.com/worldkeeper/worldkeeper/pkg/properties"
	"github.com/worldkeeper/worldkeeper/pkg/rcon"
	"github.com/worldkeeper/worldkeeper/pkg/runtime/docker"
)

// Phase is the orchestrator's lifecycle position.
type Phase string

const (
	PhaseStopped    Phase = "stopped"
	PhaseStarting   Phase = "starting"
	PhaseRunning    Phase = "running"
	PhaseStopping   Phase = "stopping"
	PhaseRestarting Phase = "restarting"
)

// Runtime is the container side, implemented by *docker.Manager.
type Runtime interface {
	EnsureContainer(ctx context.Context, desired environment.Desired) (docker.ContainerState, error)
	Start(ctx context.Context) (docker.ContainerState, error)
	Stop(ctx context.Context) (docker.ContainerState, error)
	Status(ctx context.Context) (docker.ContainerState, error)
}

// Presence is the RCON side, implemented by *rcon.Client.
type Presence interface {
	ListConnectedUsers(ctx context.Context) rcon.PresenceSnapshot
	SaveAll(ctx context.Context) error
}

// Sync is the repository side, implemented by *git.Controller.
type Sync interface {
	EnsureRepo(ctx context.Context) error
	OpenSession(ctx context.Context) (*git.SessionBranch, error)
	AutosaveTick(ctx context.Context) git.SaveResult
	ManualSave(ctx context.Context) (git.SaveResult, error)
	CloseSession(ctx context.Context, mode git.CloseMode) error
	MarkLaunched() error
	State() git.SyncState
	LastBackup() (time.Time, error)
}

// Timeouts bound each step of a sequence.
type Timeouts struct {
	Engine time.Duration
	RCON   time.Duration
	Git    time.Duration
}

// Config configures a Controller.
type Config struct {
	WorkDir          string
	PropertiesFile   string
	Environment      environment.Options
	Timeouts         Timeouts
	AutosaveInterval time.Duration
	PresenceInterval time.Duration
	// PresenceMaxAge is how old a cached snapshot Info may serve.
	PresenceMaxAge time.Duration
}

// Status is the read-only view returned by Status.
type Status struct {
	Phase          Phase                 `json:"phase"`
	Container      docker.ContainerState `json:"container"`
	ContainerError string                `json:"container_error,omitempty"`
	SessionBranch  string                `json:"session_branch,omitempty"`
	LastBackup     time.Time             `json:"last_backup,omitempty"`
	Sync           git.SyncState         `json:"sync"`
	ServerName     string                `json:"server_name,omitempty"`
}

// Info is the presence view returned by Info.
type Info struct {
	Users     []string      `json:"users"`
	Count     int           `json:"count"`
	Max       int           `json:"max"`
	QueryOK   bool          `json:"query_ok"`
	QueriedAt time.Time     `json:"queried_at"`
	Age       time.Duration `json:"age"`
	Error     string        `json:"error,omitempty"`
}

// Controller is the lifecycle orchestrator. Construct one per deployment.
type Controller struct {
	cfg      Config
	runtime  Runtime
	presence Presence
	sync     Sync
	now      func() time.Time

	// opMu serializes every operation and background tick.
	opMu sync.Mutex

	// stateMu guards the published view below so Status never waits on opMu.
	stateMu   sync.RWMutex
	phase     Phase
	syncState git.SyncState
	snapshot  rcon.PresenceSnapshot
}

// New creates a Controller in the stopped phase.
func New(cfg Config, runtime Runtime, presence Presence, repo Sync) *Controller {
	if cfg.Timeouts.Engine <= 0 {
		cfg.Timeouts.Engine = time.Minute
	}
	if cfg.Timeouts.RCON <= 0 {
		cfg.Timeouts.RCON = rcon.DefaultTimeout
	}
	if cfg.Timeouts.Git <= 0 {
		cfg.Timeouts.Git = 2 * time.Minute
	}
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = 5 * time.Minute
	}
	if cfg.PresenceInterval <= 0 {
		cfg.PresenceInterval = 15 * time.Second
	}
	if cfg.PresenceMaxAge <= 0 {
		cfg.PresenceMaxAge = cfg.PresenceInterval
	}
	if cfg.PropertiesFile == "" {
		cfg.PropertiesFile = properties.FileName
	}
	return &Controller{
		cfg:       cfg,
		runtime:   runtime,
		presence:  presence,
		sync:      repo,
		now:       time.Now,
		phase:     PhaseStopped,
		syncState: repo.State(),
	}
}

// SetClock replaces time.Now.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// step derives a context that ignores the caller's cancellation and carries
// its own timeout.
func step(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

func (c *Controller) setPhase(p Phase) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.phase != p {
		log.Debug("Lifecycle phase", "from", c.phase, "to", p)
	}
	c.phase = p
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.phase
}

// publish copies the sync state into the published view. Called with opMu held.
func (c *Controller) publish() {
	st := c.sync.State()
	c.stateMu.Lock()
	c.syncState = st
	c.stateMu.Unlock()
}

func (c *Controller) setSnapshot(s rcon.PresenceSnapshot) {
	c.stateMu.Lock()
	c.snapshot = s
	c.stateMu.Unlock()
}

func (c *Controller) reject(op string, err error) error {
	return &Rejection{Op: op, Tag: Tag(err), Phase: c.Phase(), Err: err}
}

// containerStatus inspects the container within the engine timeout.
func (c *Controller) containerStatus(ctx context.Context) (docker.ContainerState, error) {
	sctx, cancel := step(ctx, c.cfg.Timeouts.Engine)
	defer cancel()
	return c.runtime.Status(sctx)
}

// settle derives a resting phase from the container. Called with opMu held.
func (c *Controller) settle(ctx context.Context) {
	state, err := c.containerStatus(ctx)
	if err == nil && state.Running() {
		c.setPhase(PhaseRunning)
		return
	}
	c.setPhase(PhaseStopped)
}

// Attach adopts an existing deployment: it opens the repository, restores an
// open session and derives the phase from the container. Separate processes
// call it before operating on a server another process started.
func (c *Controller) Attach(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	gctx, cancel := step(ctx, c.cfg.Timeouts.Git)
	err := c.sync.EnsureRepo(gctx)
	cancel()
	c.publish()
	c.settle(ctx)
	if err != nil {
		return c.reject("attach", err)
	}
	return nil
}

// Start clones or opens the repository, opens a session branch, resolves the
// environment and starts the container. A session left open by an earlier
// failed start is reused. A session whose server already ran is never
// resumed: Start rejects it and Stop abandons it. Any failure leaves the
// phase stopped.
func (c *Controller) Start(ctx context.Context) (docker.ContainerState, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch c.Phase() {
	case PhaseRunning:
		return docker.ContainerState{}, c.reject("start", ErrAlreadyRunning)
	case PhaseStopped:
	default:
		return docker.ContainerState{}, c.reject("start", ErrInvalidPhase)
	}
	state, err := c.containerStatus(ctx)
	if err != nil {
		return state, c.reject("start", err)
	}
	if state.Running() {
		c.setPhase(PhaseRunning)
		return state, c.reject("start", ErrAlreadyRunning)
	}

	c.setPhase(PhaseStarting)
	state, err = c.start(ctx)
	c.publish()
	if err != nil {
		c.setPhase(PhaseStopped)
		return state, c.reject("start", err)
	}
	c.setPhase(PhaseRunning)
	c.setSnapshot(rcon.PresenceSnapshot{})
	return state, nil
}

func (c *Controller) start(ctx context.Context) (docker.ContainerState, error) {
	gctx, cancel := step(ctx, c.cfg.Timeouts.Git)
	defer cancel()
	if err := c.sync.EnsureRepo(gctx); err != nil {
		return docker.ContainerState{}, err
	}
	if st := c.sync.State(); st.Phase == git.PhaseSessionOpen {
		if st.Session != nil && st.Session.Launched {
			return docker.ContainerState{}, fmt.Errorf("%w: %s ended without a stop; stop abandons it",
				git.ErrSessionAlreadyOpen, st.Session.Name)
		}
		log.Info("Reusing open session", "branch", st.Session.Name)
	} else if _, err := c.sync.OpenSession(gctx); err != nil {
		return docker.ContainerState{}, err
	}
	state, err := c.launch(ctx)
	if err != nil {
		return state, err
	}
	if err := c.sync.MarkLaunched(); err != nil {
		log.Warn("Failed to record launched session", "error", err)
	}
	return state, nil
}

// launch resolves the environment and brings the container up.
func (c *Controller) launch(ctx context.Context) (docker.ContainerState, error) {
	desired, err := environment.Resolve(c.cfg.WorkDir, c.cfg.Environment)
	if err != nil {
		return docker.ContainerState{}, err
	}
	log.Info("Resolved environment",
		"kind", desired.Kind, "artifact", desired.Artifact, "memory", desired.Memory.String(), "source", desired.Source)

	ectx, cancel := step(ctx, c.cfg.Timeouts.Engine)
	defer cancel()
	state, err := c.runtime.EnsureContainer(ectx, desired)
	if err != nil {
		return state, err
	}
	return c.runtime.Start(ectx)
}

// Stop stops the server and merges the session into trunk. Unless force is
// set, a non-empty or unknown presence rejects the stop with a
// *PlayersOnlineError and nothing changes. A remote failure after the local
// merge is logged and kept in the sync state; the stop still succeeds.
//
// With the server already stopped, an open session is closed as abandoned:
// its container went away without a stop.
func (c *Controller) Stop(ctx context.Context, force bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch c.Phase() {
	case PhaseRunning:
	case PhaseStopped:
		if c.sync.State().Phase == git.PhaseSessionOpen {
			return c.abandon(ctx)
		}
		return c.reject("stop", ErrNotRunning)
	default:
		return c.reject("stop", ErrInvalidPhase)
	}

	snapshot := c.poll(ctx)
	if !force && snapshot.Occupied() {
		log.Info("Stop rejected", "users", snapshot.Users, "query_ok", snapshot.OK)
		return c.reject("stop", &PlayersOnlineError{Snapshot: snapshot})
	}

	c.setPhase(PhaseStopping)
	ectx, cancel := step(ctx, c.cfg.Timeouts.Engine)
	_, err := c.runtime.Stop(ectx)
	cancel()
	if err != nil {
		c.settle(ctx)
		return c.reject("stop", err)
	}
	c.setPhase(PhaseStopped)
	c.setSnapshot(rcon.PresenceSnapshot{})

	gctx, cancel := step(ctx, c.cfg.Timeouts.Git)
	defer cancel()
	err = c.sync.CloseSession(gctx, git.CloseClean)
	c.publish()
	switch {
	case errors.Is(err, git.ErrNoSession):
		log.Warn("No open session to merge")
		return nil
	case errors.Is(err, git.ErrSyncRemote) && c.sync.State().Phase == git.PhaseCloned:
		log.Warn("Session merged locally, remote not updated; the push is retried on the next start", "error", err)
		return nil
	case err != nil:
		return c.reject("stop", err)
	}
	return nil
}

// abandon closes a session whose server is gone without merging it. Called
// with opMu held.
func (c *Controller) abandon(ctx context.Context) error {
	st := c.sync.State()
	log.Warn("Server is not running, abandoning its session", "branch", st.Session.Name)
	gctx, cancel := step(ctx, c.cfg.Timeouts.Git)
	defer cancel()
	err := c.sync.CloseSession(gctx, git.CloseAbandoned)
	c.publish()
	if err != nil {
		return c.reject("stop", err)
	}
	return nil
}

// Restart stops the container, re-resolves the environment and starts it
// again. The session branch is untouched.
func (c *Controller) Restart(ctx context.Context) (docker.ContainerState, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch c.Phase() {
	case PhaseRunning:
	case PhaseStopped:
		return docker.ContainerState{}, c.reject("restart", ErrNotRunning)
	default:
		return docker.ContainerState{}, c.reject("restart", ErrInvalidPhase)
	}

	c.setPhase(PhaseRestarting)
	ectx, cancel := step(ctx, c.cfg.Timeouts.Engine)
	_, err := c.runtime.Stop(ectx)
	cancel()
	if err != nil {
		c.settle(ctx)
		return docker.ContainerState{}, c.reject("restart", err)
	}
	state, err := c.launch(ctx)
	c.settle(ctx)
	if err != nil {
		return state, c.reject("restart", err)
	}
	c.setSnapshot(rcon.PresenceSnapshot{})
	return state, nil
}

// Save flushes the world over RCON when the server runs, then commits and
// pushes the session branch.
func (c *Controller) Save(ctx context.Context) (git.SaveResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.Phase() == PhaseRunning {
		rctx, cancel := step(ctx, c.cfg.Timeouts.RCON)
		if err := c.presence.SaveAll(rctx); err != nil {
			log.Warn("save-all failed, committing files as they are", "error", err)
		}
		cancel()
	}

	gctx, cancel := step(ctx, c.cfg.Timeouts.Git)
	defer cancel()
	res, err := c.sync.ManualSave(gctx)
	c.publish()
	if err != nil {
		return res, c.reject("save", err)
	}
	return res, nil
}

// Status reports the phase, container and sync state without taking the
// operation lock.
func (c *Controller) Status(ctx context.Context) Status {
	c.stateMu.RLock()
	st := Status{Phase: c.phase, Sync: c.syncState}
	c.stateMu.RUnlock()

	if st.Sync.Session != nil {
		st.SessionBranch = st.Sync.Session.Name
	}
	container, err := c.containerStatus(ctx)
	st.Container = container
	if err != nil {
		st.ContainerError = err.Error()
	}
	if backup, err := c.sync.LastBackup(); err == nil {
		st.LastBackup = backup
	}
	if f, err := properties.Load(filepath.Join(c.cfg.WorkDir, c.cfg.PropertiesFile)); err == nil {
		st.ServerName = f.ServerName()
	}
	return st
}

// Info returns the last presence snapshot, refreshing it when it is older
// than PresenceMaxAge and the server runs. While another operation holds the
// lock the stale snapshot is returned as is.
func (c *Controller) Info(ctx context.Context) Info {
	c.stateMu.RLock()
	snapshot := c.snapshot
	c.stateMu.RUnlock()

	if c.now().Sub(snapshot.At) > c.cfg.PresenceMaxAge && c.opMu.TryLock() {
		if c.Phase() == PhaseRunning {
			snapshot = c.poll(ctx)
		}
		c.opMu.Unlock()
	}

	info := Info{
		Users:     snapshot.Users,
		Count:     snapshot.Count,
		Max:       snapshot.Max,
		QueryOK:   snapshot.OK,
		QueriedAt: snapshot.At,
	}
	if info.Users == nil {
		info.Users = []string{}
	}
	if !snapshot.At.IsZero() {
		info.Age = c.now().Sub(snapshot.At)
	}
	if snapshot.Err != nil {
		info.Error = snapshot.Err.Error()
	}
	return info
}

// poll queries presence and caches the snapshot. Called with opMu held.
func (c *Controller) poll(ctx context.Context) rcon.PresenceSnapshot {
	rctx, cancel := step(ctx, c.cfg.Timeouts.RCON)
	defer cancel()
	snapshot := c.presence.ListConnectedUsers(rctx)
	c.setSnapshot(snapshot)
	return snapshot
}
