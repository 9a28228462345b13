package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/worldkeeper/worldkeeper/pkg/environment"
	"github.com/worldkeeper/worldkeeper/pkg/git"
	"github.com/worldkeeper/worldkeeper/pkg/rcon"
	"github.com/worldkeeper/worldkeeper/pkg/runtime/docker"
)

type fakeRuntime struct {
	mu      sync.Mutex
	status  docker.Status
	desired []environment.Desired
	creates int
	starts  int
	stops   int

	ensureErr error
	startErr  error
	stopErr   error
	statusErr error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{status: docker.StatusAbsent}
}

func (f *fakeRuntime) state() docker.ContainerState {
	s := docker.ContainerState{Name: "mc-server", Status: f.status}
	if f.status != docker.StatusAbsent {
		s.ID = "c1"
	}
	return s
}

func (f *fakeRuntime) EnsureContainer(_ context.Context, desired environment.Desired) (docker.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.desired = append(f.desired, desired)
	if f.ensureErr != nil {
		return f.state(), f.ensureErr
	}
	if f.status == docker.StatusAbsent {
		f.creates++
		f.status = docker.StatusCreated
	}
	return f.state(), nil
}

func (f *fakeRuntime) Start(context.Context) (docker.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.state(), f.startErr
	}
	if f.status != docker.StatusRunning {
		f.starts++
		f.status = docker.StatusRunning
	}
	return f.state(), nil
}

func (f *fakeRuntime) Stop(context.Context) (docker.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.state(), f.stopErr
	}
	if f.status == docker.StatusRunning {
		f.stops++
		f.status = docker.StatusExited
	}
	return f.state(), nil
}

func (f *fakeRuntime) Status(context.Context) (docker.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return docker.ContainerState{Name: "mc-server"}, f.statusErr
	}
	return f.state(), nil
}

type fakePresence struct {
	mu       sync.Mutex
	users    []string
	err      error
	saveErr  error
	queries  int
	saveAlls int
	now      func() time.Time
}

func (f *fakePresence) ListConnectedUsers(context.Context) rcon.PresenceSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	at := time.Now()
	if f.now != nil {
		at = f.now()
	}
	if f.err != nil {
		return rcon.PresenceSnapshot{At: at, Err: fmt.Errorf("%w: %w", rcon.ErrPresenceUnknown, f.err)}
	}
	users := append([]string(nil), f.users...)
	return rcon.PresenceSnapshot{Users: users, Count: len(users), Max: 20, At: at, OK: true}
}

func (f *fakePresence) SaveAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveAlls++
	return f.saveErr
}

type fakeSync struct {
	mu        sync.Mutex
	phase     git.Phase
	session   *git.SessionBranch
	opens     int
	closes    []git.CloseMode
	autosaves int
	saves     int
	launches  int

	ensureErr error
	openErr   error
	closeErr  error
	saveErr   error
}

func newFakeSync() *fakeSync {
	return &fakeSync{phase: git.PhaseUninitialized}
}

func (f *fakeSync) EnsureRepo(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ensureErr != nil {
		return f.ensureErr
	}
	if f.phase == git.PhaseUninitialized {
		f.phase = git.PhaseCloned
	}
	return nil
}

func (f *fakeSync) OpenSession(context.Context) (*git.SessionBranch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.phase != git.PhaseCloned {
		return nil, git.ErrSessionAlreadyOpen
	}
	f.opens++
	f.phase = git.PhaseSessionOpen
	f.session = &git.SessionBranch{
		Name:        fmt.Sprintf("sessions/20261018-12000%d", f.opens),
		Parent:      "abc123",
		Disposition: git.DispositionOpen,
	}
	return f.session, nil
}

func (f *fakeSync) AutosaveTick(context.Context) git.SaveResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != git.PhaseSessionOpen {
		return git.SaveResult{}
	}
	f.autosaves++
	return git.SaveResult{Branch: f.session.Name, Pushed: true}
}

func (f *fakeSync) ManualSave(context.Context) (git.SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != git.PhaseSessionOpen {
		return git.SaveResult{}, git.ErrNoSession
	}
	f.saves++
	if f.saveErr != nil {
		return git.SaveResult{Branch: f.session.Name}, f.saveErr
	}
	return git.SaveResult{Branch: f.session.Name, Commit: "def456", Pushed: true}, nil
}

func (f *fakeSync) CloseSession(_ context.Context, mode git.CloseMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != git.PhaseSessionOpen {
		return git.ErrNoSession
	}
	f.closes = append(f.closes, mode)
	f.phase = git.PhaseCloned
	f.session = nil
	return f.closeErr
}

func (f *fakeSync) MarkLaunched() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != git.PhaseSessionOpen {
		return git.ErrNoSession
	}
	f.launches++
	f.session.Launched = true
	return nil
}

func (f *fakeSync) State() git.SyncState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := git.SyncState{Phase: f.phase}
	if f.session != nil {
		s := *f.session
		st.Session = &s
	}
	return st
}

func (f *fakeSync) LastBackup() (time.Time, error) {
	return time.Time{}, nil
}
