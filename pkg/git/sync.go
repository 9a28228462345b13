package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/worldkeeper/worldkeeper/pkg/log"
)

var (
	// ErrSessionAlreadyOpen is returned by OpenSession while a session is open.
	ErrSessionAlreadyOpen = errors.New("session already open")
	// ErrNoSession is returned by operations that need an open session.
	ErrNoSession = errors.New("no open session")
	// ErrNotCloned is returned before EnsureRepo succeeded.
	ErrNotCloned = errors.New("repository not initialized")
	// ErrSyncRemote wraps failures talking to the remote.
	ErrSyncRemote = errors.New("sync remote error")
)

// RemoteName is the only remote the controller uses.
const RemoteName = "origin"

// Phase is the sync state machine position.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseCloned        Phase = "cloned"
	PhaseSessionOpen   Phase = "session-open"
	PhaseMerging       Phase = "merging"
)

// Disposition is how a session branch ended.
type Disposition string

const (
	DispositionOpen      Disposition = "open"
	DispositionMerged    Disposition = "merged"
	DispositionAbandoned Disposition = "abandoned"
)

// CloseMode selects how CloseSession ends a session.
type CloseMode string

const (
	CloseClean     CloseMode = "clean"
	CloseAbandoned CloseMode = "abandoned"
)

const sessionTimeFormat = "20060102-150405"

// OverwrittenRefPrefix holds trunk heads that a session replaced with a
// hard reset. They are pushed so the lost commits stay reachable.
const OverwrittenRefPrefix = "refs/worldkeeper/overwritten/"

// SessionBranch is one server run's branch.
type SessionBranch struct {
	Name        string      `json:"name"`
	Parent      string      `json:"parent"`
	Commits     []string    `json:"commits"`
	Disposition Disposition `json:"disposition"`
	OpenedAt    time.Time   `json:"opened_at"`
	// Launched is set once a server ran on the session. Only a session that
	// never launched may be reused by the next start.
	Launched bool `json:"launched,omitempty"`
}

func (s *SessionBranch) clone() *SessionBranch {
	if s == nil {
		return nil
	}
	out := *s
	out.Commits = append([]string(nil), s.Commits...)
	return &out
}

// SyncState is the controller's observable state.
type SyncState struct {
	Phase            Phase          `json:"phase"`
	Session          *SessionBranch `json:"session,omitempty"`
	LastSession      *SessionBranch `json:"last_session,omitempty"`
	LastAutosave     time.Time      `json:"last_autosave,omitempty"`
	AutosaveInterval time.Duration  `json:"autosave_interval"`
	LastPushError    string         `json:"last_push_error,omitempty"`
}

// SaveResult reports one commit-and-push.
type SaveResult struct {
	Branch string `json:"branch"`
	Commit string `json:"commit,omitempty"` // empty when nothing changed
	Pushed bool   `json:"pushed"`
}

// Options configure a Controller.
type Options struct {
	WorkDir          string
	StateDir         string
	RemoteURL        string
	Trunk            string
	SessionPrefix    string
	Username         string
	Token            string
	Author           Config
	Excluded         []string // paths never committed, relative to WorkDir
	AutosaveInterval time.Duration
}

// Controller is the repository sync controller. It is not safe for
// concurrent use; callers serialize access.
type Controller struct {
	opts  Options
	cli   *Client
	repo  *gogit.Repository
	state SyncState
	now   func() time.Time

	// trunkPending is set while a merged trunk has not reached the remote.
	trunkPending  bool
	trunkForce    bool
	trunkPreserve plumbing.ReferenceName
}

// NewController creates a Controller. EnsureRepo must run before any other
// operation.
func NewController(opts Options) *Controller {
	if opts.Trunk == "" {
		opts.Trunk = "main"
	}
	if opts.SessionPrefix == "" {
		opts.SessionPrefix = "sessions"
	}
	if opts.Author.AuthorName == "" {
		opts.Author.AuthorName = DefaultAuthorName
	}
	if opts.Author.AuthorEmail == "" {
		opts.Author.AuthorEmail = DefaultAuthorEmail
	}
	return &Controller{
		opts: opts,
		cli:  NewClient(opts.WorkDir),
		state: SyncState{
			Phase:            PhaseUninitialized,
			AutosaveInterval: opts.AutosaveInterval,
		},
		now: time.Now,
	}
}

// SetClock replaces time.Now.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// State returns a copy of the current state.
func (c *Controller) State() SyncState {
	s := c.state
	s.Session = c.state.Session.clone()
	s.LastSession = c.state.LastSession.clone()
	return s
}

// LastBackup returns the time of the last successful merge into trunk.
func (c *Controller) LastBackup() (time.Time, error) {
	m, err := ReadMarker(c.opts.StateDir)
	if err != nil || m.LastBackup == 0 {
		return time.Time{}, err
	}
	return time.Unix(m.LastBackup, 0).UTC(), nil
}

func (c *Controller) trunkRef() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(c.opts.Trunk)
}

func (c *Controller) auth() transport.AuthMethod {
	if c.opts.Token == "" {
		return nil
	}
	username := c.opts.Username
	if username == "" {
		username = "x-access-token"
	}
	return &http.BasicAuth{Username: username, Password: c.opts.Token}
}

func remoteErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSyncRemote, op, err)
}

// EnsureRepo makes WorkDir a clone of the remote trunk. An empty directory is
// cloned; a populated directory without .git is initialized and hard-reset to
// the remote trunk, keeping untracked files. An existing clone is only
// probed. A session branch checked out at HEAD is restored as the open
// session.
func (c *Controller) EnsureRepo(ctx context.Context) error {
	if err := os.MkdirAll(c.opts.WorkDir, 0755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	repo, err := gogit.PlainOpen(c.opts.WorkDir)
	switch {
	case err == nil:
		c.repo = repo
		if err := c.probeRemote(ctx); err != nil {
			log.Warn("Remote not reachable, continuing offline", "remote", c.opts.RemoteURL, "error", err)
		}
	case errors.Is(err, gogit.ErrRepositoryNotExists):
		empty, err := isEmptyDir(c.opts.WorkDir)
		if err != nil {
			return err
		}
		if empty {
			err = c.cloneInto(ctx)
		} else {
			err = c.adoptDirectory(ctx)
		}
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("failed to open repository: %w", err)
	}

	if err := c.ensureExcluded(); err != nil {
		return err
	}
	return c.restoreSession()
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("failed to read work dir: %w", err)
	}
	return len(entries) == 0, nil
}

func (c *Controller) probeRemote(ctx context.Context) error {
	remote, err := c.repo.Remote(RemoteName)
	if err != nil {
		return err
	}
	_, err = remote.ListContext(ctx, &gogit.ListOptions{Auth: c.auth()})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return nil
	}
	return err
}

func (c *Controller) cloneInto(ctx context.Context) error {
	log.Info("Cloning world repository", "remote", c.opts.RemoteURL, "branch", c.opts.Trunk)
	repo, err := gogit.PlainCloneContext(ctx, c.opts.WorkDir, false, &gogit.CloneOptions{
		URL:           c.opts.RemoteURL,
		Auth:          c.auth(),
		RemoteName:    RemoteName,
		ReferenceName: c.trunkRef(),
		SingleBranch:  true,
	})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		// PlainClone leaves a half-initialized .git behind.
		os.RemoveAll(filepath.Join(c.opts.WorkDir, ".git"))
		return c.initFresh(ctx)
	}
	if err != nil {
		return remoteErr("clone", err)
	}
	c.repo = repo
	if _, err := repo.Reference(c.trunkRef(), true); err != nil {
		head := plumbing.NewSymbolicReference(plumbing.HEAD, c.trunkRef())
		if err := repo.Storer.SetReference(head); err != nil {
			return fmt.Errorf("failed to point HEAD at trunk: %w", err)
		}
		return c.importInitial(ctx)
	}
	return nil
}

// adoptDirectory turns an existing server directory into a clone.
func (c *Controller) adoptDirectory(ctx context.Context) error {
	log.Info("Adopting existing server directory", "dir", c.opts.WorkDir, "remote", c.opts.RemoteURL)
	repo, err := c.initRepo()
	if err != nil {
		return err
	}
	c.repo = repo

	err = repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: RemoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(c.trackingRefSpec())},
		Auth:       c.auth(),
	})
	switch {
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return c.importInitial(ctx)
	case err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate):
		return remoteErr("fetch", err)
	}

	remoteTrunk := plumbing.NewRemoteReferenceName(RemoteName, c.opts.Trunk)
	if _, err := repo.Reference(remoteTrunk, true); err != nil {
		return c.importInitial(ctx)
	}
	if err := c.cli.ResetHard(ctx, remoteTrunk.Short()); err != nil {
		return fmt.Errorf("failed to reset to remote trunk: %w", err)
	}
	return nil
}

func (c *Controller) initFresh(ctx context.Context) error {
	repo, err := c.initRepo()
	if err != nil {
		return err
	}
	c.repo = repo
	return c.importInitial(ctx)
}

// initRepo runs git init with HEAD on trunk and the remote configured.
func (c *Controller) initRepo() (*gogit.Repository, error) {
	repo, err := gogit.PlainInit(c.opts.WorkDir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, c.trunkRef())
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("failed to point HEAD at trunk: %w", err)
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{
		Name: RemoteName,
		URLs: []string{c.opts.RemoteURL},
	}); err != nil {
		return nil, fmt.Errorf("failed to add remote: %w", err)
	}
	return repo, nil
}

// importInitial seeds an empty remote with the directory's contents.
func (c *Controller) importInitial(ctx context.Context) error {
	if err := c.ensureExcluded(); err != nil {
		return err
	}
	hash, err := c.commitAll("initial world import", true)
	if err != nil {
		return err
	}
	log.Info("Seeded empty remote", "branch", c.opts.Trunk, "commit", hash)
	if err := c.push(ctx, c.opts.Trunk, false); err != nil {
		log.Warn("Failed to push initial trunk", "error", err)
	}
	return nil
}

func (c *Controller) trackingRefSpec() string {
	return fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", c.opts.Trunk, RemoteName, c.opts.Trunk)
}

// ensureExcluded keeps the excluded paths out of the index and in .gitignore.
func (c *Controller) ensureExcluded() error {
	if len(c.opts.Excluded) == 0 {
		return nil
	}

	ignorePath := filepath.Join(c.opts.WorkDir, ".gitignore")
	data, err := os.ReadFile(ignorePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read .gitignore: %w", err)
	}
	present := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		present[strings.TrimSpace(line)] = true
	}
	var missing []string
	for _, p := range c.opts.Excluded {
		if !present[p] && !present["/"+p] {
			missing = append(missing, "/"+p)
		}
	}
	if len(missing) > 0 {
		content := string(data)
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += strings.Join(missing, "\n") + "\n"
		if err := os.WriteFile(ignorePath, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to update .gitignore: %w", err)
		}
	}

	idx, err := c.repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	changed := false
	for _, p := range c.opts.Excluded {
		if _, err := idx.Remove(filepath.ToSlash(p)); err == nil {
			log.Info("Untracked server configuration file", "path", p)
			changed = true
		}
	}
	if changed {
		if err := c.repo.Storer.SetIndex(idx); err != nil {
			return fmt.Errorf("failed to write index: %w", err)
		}
	}
	return nil
}

// restoreSession derives the phase from HEAD.
func (c *Controller) restoreSession() error {
	c.state.Phase = PhaseCloned
	c.state.Session = nil

	head, err := c.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil
		}
		return fmt.Errorf("failed to read HEAD: %w", err)
	}
	name := head.Name().Short()
	if !head.Name().IsBranch() || !strings.HasPrefix(name, c.opts.SessionPrefix+"/") {
		return nil
	}

	session := &SessionBranch{Name: name, Disposition: DispositionOpen}
	stamp := strings.TrimPrefix(name, c.opts.SessionPrefix+"/")
	if len(stamp) >= len(sessionTimeFormat) {
		if t, err := time.Parse(sessionTimeFormat, stamp[:len(sessionTimeFormat)]); err == nil {
			session.OpenedAt = t
		}
	}

	headCommit, err := c.repo.CommitObject(head.Hash())
	if err != nil {
		return fmt.Errorf("failed to read session head: %w", err)
	}
	if trunk, err := c.repo.Reference(c.trunkRef(), true); err == nil {
		if trunkCommit, err := c.repo.CommitObject(trunk.Hash()); err == nil {
			if bases, err := headCommit.MergeBase(trunkCommit); err == nil && len(bases) > 0 {
				session.Parent = bases[0].Hash.String()
			}
		}
	}
	session.Commits = c.commitsSince(head.Hash(), session.Parent)
	if m, err := ReadMarker(c.opts.StateDir); err != nil {
		log.Warn("Failed to read state marker", "error", err)
	} else {
		session.Launched = m.Launched == name
	}

	c.state.Phase = PhaseSessionOpen
	c.state.Session = session
	log.Info("Resumed open session", "branch", name, "commits", len(session.Commits), "launched", session.Launched)
	return nil
}

// commitsSince lists commits reachable from head down to (excluding) parent,
// oldest first.
func (c *Controller) commitsSince(head plumbing.Hash, parent string) []string {
	iter, err := c.repo.Log(&gogit.LogOptions{From: head})
	if err != nil {
		return nil
	}
	var out []string
	_ = iter.ForEach(func(commit *object.Commit) error {
		if commit.Hash.String() == parent || len(out) >= 1000 {
			return storer.ErrStop
		}
		out = append(out, commit.Hash.String())
		return nil
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// OpenSession fast-forwards trunk from the remote and checks out a new
// session branch from it.
func (c *Controller) OpenSession(ctx context.Context) (*SessionBranch, error) {
	switch c.state.Phase {
	case PhaseUninitialized:
		return nil, ErrNotCloned
	case PhaseSessionOpen, PhaseMerging:
		return nil, ErrSessionAlreadyOpen
	}

	if err := c.checkoutTrunk(ctx); err != nil {
		return nil, err
	}
	c.updateTrunk(ctx)

	trunk, err := c.repo.Reference(c.trunkRef(), true)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve trunk: %w", err)
	}

	openedAt := c.now().UTC()
	name := c.sessionName(openedAt)

	wt, err := c.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Hash:   trunk.Hash(),
		Create: true,
		Keep:   true,
	}); err != nil {
		return nil, fmt.Errorf("failed to create session branch %s: %w", name, err)
	}

	c.state.Session = &SessionBranch{
		Name:        name,
		Parent:      trunk.Hash().String(),
		Disposition: DispositionOpen,
		OpenedAt:    openedAt,
	}
	c.state.Phase = PhaseSessionOpen
	log.Info("Session opened", "branch", name, "parent", short(trunk.Hash().String()), "author", c.opts.Author.String())
	return c.state.Session.clone(), nil
}

// MarkLaunched records that a server ran on the open session. It survives
// restarts of the controller process.
func (c *Controller) MarkLaunched() error {
	if c.state.Phase != PhaseSessionOpen {
		return ErrNoSession
	}
	c.state.Session.Launched = true
	return c.updateMarker(func(m *Marker) { m.Launched = c.state.Session.Name })
}

func (c *Controller) updateMarker(fn func(m *Marker)) error {
	m, err := ReadMarker(c.opts.StateDir)
	if err != nil {
		return err
	}
	fn(&m)
	return WriteMarker(c.opts.StateDir, m)
}

func (c *Controller) sessionName(at time.Time) string {
	base := c.opts.SessionPrefix + "/" + at.Format(sessionTimeFormat)
	name := base
	for i := 2; ; i++ {
		if _, err := c.repo.Reference(plumbing.NewBranchReferenceName(name), false); err != nil {
			return name
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

func (c *Controller) checkoutTrunk(ctx context.Context) error {
	head, err := c.repo.Head()
	if err == nil && head.Name() == c.trunkRef() {
		return nil
	}
	if err := c.cli.Checkout(ctx, c.opts.Trunk); err != nil {
		return fmt.Errorf("failed to check out %s: %w", c.opts.Trunk, err)
	}
	return nil
}

// updateTrunk fetches the remote trunk and fast-forwards the local one.
// Offline or diverged remotes only log a warning. Local trunk commits that
// never reached the remote are pushed, a pending merge before anything else.
func (c *Controller) updateTrunk(ctx context.Context) {
	if err := c.retryTrunkPush(ctx); err != nil {
		log.Warn("Merged trunk still not pushed", "error", err)
	}
	if err := c.fetchTrunk(ctx); err != nil {
		log.Warn("Could not update trunk from remote", "error", err)
		return
	}
	remoteTrunk := plumbing.NewRemoteReferenceName(RemoteName, c.opts.Trunk)
	if _, err := c.repo.Reference(remoteTrunk, true); err != nil {
		return
	}
	if err := c.cli.MergeFastForward(ctx, remoteTrunk.Short()); err != nil {
		log.Warn("Trunk diverged from remote, using local trunk", "error", err)
		return
	}
	if err := c.push(ctx, c.opts.Trunk, false); err != nil {
		log.Warn("Failed to push trunk", "error", err)
	}
}

// retryTrunkPush pushes a trunk whose push failed when its session closed.
func (c *Controller) retryTrunkPush(ctx context.Context) error {
	if !c.trunkPending {
		return nil
	}
	if c.trunkPreserve != "" {
		// A force push without the preserved ref would drop the commits.
		if err := c.pushRef(ctx, c.trunkPreserve, false); err != nil {
			err = remoteErr("push "+c.trunkPreserve.String(), err)
			c.state.LastPushError = err.Error()
			return err
		}
		c.trunkPreserve = ""
	}
	if err := c.push(ctx, c.opts.Trunk, c.trunkForce); err != nil {
		c.state.LastPushError = err.Error()
		return err
	}
	log.Info("Pushed merged trunk", "branch", c.opts.Trunk)
	c.trunkPending = false
	c.trunkForce = false
	c.state.LastPushError = ""
	return nil
}

func (c *Controller) fetchTrunk(ctx context.Context) error {
	err := c.repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: RemoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(c.trackingRefSpec())},
		Auth:       c.auth(),
	})
	if err == nil || errors.Is(err, gogit.NoErrAlreadyUpToDate) || errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return nil
	}
	return remoteErr("fetch", err)
}

// AutosaveTick commits pending changes on the session branch and pushes it.
// The push runs on every tick so a failed push is retried, including a trunk
// push left over from the previous session. Failures are logged and
// recorded, never returned.
func (c *Controller) AutosaveTick(ctx context.Context) SaveResult {
	if c.state.Phase != PhaseSessionOpen {
		return SaveResult{}
	}
	res, err := c.save(ctx, "autosave")
	c.state.LastAutosave = c.now()
	if err != nil {
		log.Warn("Autosave incomplete", "branch", res.Branch, "error", err)
	} else if res.Commit != "" {
		log.Info("Autosaved", "branch", res.Branch, "commit", short(res.Commit))
	}
	return res
}

// ManualSave commits and pushes the session branch on request.
func (c *Controller) ManualSave(ctx context.Context) (SaveResult, error) {
	if c.state.Phase != PhaseSessionOpen {
		return SaveResult{}, ErrNoSession
	}
	return c.save(ctx, "manual save")
}

func (c *Controller) save(ctx context.Context, label string) (SaveResult, error) {
	session := c.state.Session
	res := SaveResult{Branch: session.Name}

	hash, err := c.commitAll(fmt.Sprintf("%s %s", label, c.now().UTC().Format(time.RFC3339)), false)
	if err != nil {
		return res, err
	}
	if hash != "" {
		res.Commit = hash
		session.Commits = append(session.Commits, hash)
	}

	trunkErr := c.retryTrunkPush(ctx)
	if err := c.push(ctx, session.Name, false); err != nil {
		c.state.LastPushError = err.Error()
		return res, err
	}
	res.Pushed = true
	if trunkErr != nil {
		return res, trunkErr
	}
	c.state.LastPushError = ""
	return res, nil
}

// commitAll stages every change except the excluded paths and commits. It
// returns "" when nothing was staged, unless allowEmpty is set.
func (c *Controller) commitAll(message string, allowEmpty bool) (string, error) {
	wt, err := c.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get status: %w", err)
	}

	excluded := map[string]bool{}
	for _, p := range c.opts.Excluded {
		excluded[filepath.ToSlash(p)] = true
	}

	staged := false
	for path, st := range status {
		if excluded[path] {
			continue
		}
		if st.Worktree != gogit.Unmodified {
			// Add also records deletions.
			if _, err := wt.Add(path); err != nil {
				return "", fmt.Errorf("failed to stage %s: %w", path, err)
			}
			staged = true
		} else if st.Staging != gogit.Unmodified && st.Staging != gogit.Untracked {
			staged = true
		}
	}
	if !staged {
		// Index-only changes such as an untracked configuration file.
		if after, err := wt.Status(); err == nil {
			for _, st := range after {
				if st.Staging != gogit.Unmodified && st.Staging != gogit.Untracked {
					staged = true
					break
				}
			}
		}
	}
	if !staged && !allowEmpty {
		return "", nil
	}

	commit, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  c.opts.Author.AuthorName,
			Email: c.opts.Author.AuthorEmail,
			When:  c.now(),
		},
		AllowEmptyCommits: allowEmpty,
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return commit.String(), nil
}

func (c *Controller) push(ctx context.Context, branch string, force bool) error {
	if err := c.pushRef(ctx, plumbing.NewBranchReferenceName(branch), force); err != nil {
		return remoteErr("push "+branch, err)
	}
	return nil
}

func (c *Controller) pushRef(ctx context.Context, ref plumbing.ReferenceName, force bool) error {
	remote, err := c.repo.Remote(RemoteName)
	if err != nil {
		return err
	}
	spec := fmt.Sprintf("%s:%s", ref, ref)
	if force {
		spec = "+" + spec
	}
	err = remote.PushContext(ctx, &gogit.PushOptions{
		RemoteName: RemoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(spec)},
		Auth:       c.auth(),
		Force:      force,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

// CloseSession ends the open session. A clean close commits and pushes the
// session, merges it into trunk with the session winning every conflict,
// pushes trunk, deletes the local session branch and records the backup
// time. An abandoned close commits pending changes to the session branch and
// returns to trunk without merging.
//
// The local merge always completes; a remote failure afterwards is returned
// wrapped in ErrSyncRemote with the phase already back at cloned, and the
// trunk push is retried by the next OpenSession or save.
//
// When the merge cannot finish, trunk is reset to the session and
// force-pushed. The replaced trunk head is first pushed under
// OverwrittenRefPrefix.
func (c *Controller) CloseSession(ctx context.Context, mode CloseMode) error {
	if c.state.Phase != PhaseSessionOpen {
		return ErrNoSession
	}
	session := c.state.Session

	switch mode {
	case CloseAbandoned:
		return c.abandon(ctx, session)
	case CloseClean:
	default:
		return fmt.Errorf("unknown close mode %q", mode)
	}

	c.state.Phase = PhaseMerging
	hash, err := c.commitAll("session end "+c.now().UTC().Format(time.RFC3339), false)
	if err != nil {
		c.state.Phase = PhaseSessionOpen
		return err
	}
	if hash != "" {
		session.Commits = append(session.Commits, hash)
	}

	var remoteErrs []error
	if err := c.push(ctx, session.Name, false); err != nil {
		remoteErrs = append(remoteErrs, err)
	}

	if err := c.cli.Checkout(ctx, c.opts.Trunk); err != nil {
		c.state.Phase = PhaseSessionOpen
		return fmt.Errorf("failed to check out %s: %w", c.opts.Trunk, err)
	}
	c.updateTrunk(ctx)

	upstream, err := c.cli.RevList(ctx, session.Name+".."+c.opts.Trunk)
	if err != nil {
		log.Warn("Failed to list trunk commits made during the session", "error", err)
	}
	trunkBefore, _ := c.cli.GetHeadSHA(ctx)
	var preserved plumbing.ReferenceName

	strategy := "merge-theirs"
	message := fmt.Sprintf("merge session %s", session.Name)
	if err := c.cli.MergeTheirs(ctx, session.Name, message, c.opts.Author); err != nil {
		log.Warn("Merge did not complete, resetting trunk to session", "branch", session.Name, "error", err)
		if abortErr := c.cli.MergeAbort(ctx); abortErr != nil {
			log.Warn("Failed to abort merge", "error", abortErr)
		}
		if len(upstream) > 0 && trunkBefore != "" {
			preserved = plumbing.ReferenceName(OverwrittenRefPrefix + c.now().UTC().Format(sessionTimeFormat))
			if err := c.repo.Storer.SetReference(plumbing.NewHashReference(preserved, plumbing.NewHash(trunkBefore))); err != nil {
				log.Warn("Failed to record overwritten trunk", "error", err)
				preserved = ""
			}
		}
		if err := c.cli.ResetHard(ctx, session.Name); err != nil {
			c.state.Phase = PhaseSessionOpen
			return fmt.Errorf("failed to reset trunk to session: %w", err)
		}
		strategy = "reset"
	}
	if len(upstream) > 0 {
		log.Info("MergeConflictResolved",
			"session", session.Name,
			"trunk", c.opts.Trunk,
			"upstream_commits", len(upstream),
			"overwritten", shortList(upstream, 20),
			"preserved_ref", preserved.String(),
			"strategy", strategy)
	}

	c.trunkPending = true
	c.trunkForce = strategy == "reset"
	c.trunkPreserve = preserved
	if err := c.retryTrunkPush(ctx); err != nil {
		remoteErrs = append(remoteErrs, err)
	}

	if err := c.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(session.Name)); err != nil {
		log.Warn("Failed to delete session branch", "branch", session.Name, "error", err)
	}
	if err := c.repo.DeleteBranch(session.Name); err != nil && !errors.Is(err, gogit.ErrBranchNotFound) {
		log.Warn("Failed to delete session branch config", "branch", session.Name, "error", err)
	}

	trunkHead, _ := c.cli.GetHeadSHA(ctx)
	if err := WriteMarker(c.opts.StateDir, Marker{
		LastBackup: c.now().Unix(),
		Session:    session.Name,
		Commit:     trunkHead,
	}); err != nil {
		log.Warn("Failed to write backup marker", "error", err)
	}

	session.Disposition = DispositionMerged
	c.finish(session)
	log.Info("Session merged", "branch", session.Name, "trunk", c.opts.Trunk, "commit", short(trunkHead))

	if err := errors.Join(remoteErrs...); err != nil {
		c.state.LastPushError = err.Error()
		return err
	}
	c.state.LastPushError = ""
	return nil
}

func (c *Controller) abandon(ctx context.Context, session *SessionBranch) error {
	if hash, err := c.commitAll("session abandoned "+c.now().UTC().Format(time.RFC3339), false); err != nil {
		return err
	} else if hash != "" {
		session.Commits = append(session.Commits, hash)
	}
	if err := c.push(ctx, session.Name, false); err != nil {
		log.Warn("Failed to push abandoned session", "branch", session.Name, "error", err)
	}
	if err := c.cli.Checkout(ctx, c.opts.Trunk); err != nil {
		return fmt.Errorf("failed to check out %s: %w", c.opts.Trunk, err)
	}
	session.Disposition = DispositionAbandoned
	c.finish(session)
	if err := c.updateMarker(func(m *Marker) { m.Launched = "" }); err != nil {
		log.Warn("Failed to update state marker", "error", err)
	}
	log.Info("Session abandoned", "branch", session.Name)
	return nil
}

func (c *Controller) finish(session *SessionBranch) {
	c.state.LastSession = session
	c.state.Session = nil
	c.state.Phase = PhaseCloned
}

func shortList(hashes []string, max int) []string {
	out := make([]string, 0, len(hashes))
	for i, h := range hashes {
		if i == max {
			out = append(out, fmt.Sprintf("+%d more", len(hashes)-max))
			break
		}
		out = append(out, short(h))
	}
	return out
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
