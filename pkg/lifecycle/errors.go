package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/worldkeeper/worldkeeper/pkg/environment"
	"github.com/worldkeeper/worldkeeper/pkg/git"
	"github.com/worldkeeper/worldkeeper/pkg/rcon"
	"github.com/worldkeeper/worldkeeper/pkg/runtime/docker"
)

var (
	// ErrPlayersOnline is matched by a *PlayersOnlineError.
	ErrPlayersOnline = errors.New("players online")
	// ErrAlreadyRunning is returned by Start while the server runs.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning is returned by Stop and Restart while the server is stopped.
	ErrNotRunning = errors.New("server not running")
	// ErrInvalidPhase is returned when another operation holds a transitional phase.
	ErrInvalidPhase = errors.New("invalid phase")
)

// Error tags reported to operators.
const (
	TagConfiguration      = "configuration_error"
	TagRuntimeUnavailable = "runtime_unavailable"
	TagPresenceUnknown    = "presence_unknown"
	TagPlayersOnline      = "players_online"
	TagSessionAlreadyOpen = "session_already_open"
	TagSyncRemote         = "sync_remote_error"
	TagInvalidPhase       = "invalid_phase"
	TagInternal           = "internal"
)

// PlayersOnlineError rejects a non-forced stop. When the presence query
// failed the snapshot is not OK and the error also matches
// rcon.ErrPresenceUnknown.
type PlayersOnlineError struct {
	Snapshot rcon.PresenceSnapshot
}

func (e *PlayersOnlineError) Error() string {
	if !e.Snapshot.OK {
		return fmt.Sprintf("%v: presence unknown, assuming occupied", ErrPlayersOnline)
	}
	if len(e.Snapshot.Users) == 0 {
		return fmt.Sprintf("%v: %d connected", ErrPlayersOnline, e.Snapshot.Count)
	}
	return fmt.Sprintf("%v: %s", ErrPlayersOnline, strings.Join(e.Snapshot.Users, ", "))
}

func (e *PlayersOnlineError) Is(target error) bool {
	return target == ErrPlayersOnline
}

func (e *PlayersOnlineError) Unwrap() error {
	return e.Snapshot.Err
}

// Rejection is the error returned by every failed operation. It carries the
// taxonomy tag and the phase the controller settled in.
type Rejection struct {
	Op    string
	Tag   string
	Phase Phase
	Err   error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", r.Op, r.Tag, r.Err)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Tag classifies err.
func Tag(err error) string {
	var rej *Rejection
	if errors.As(err, &rej) && rej.Tag != "" {
		return rej.Tag
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPlayersOnline):
		return TagPlayersOnline
	case errors.Is(err, environment.ErrConfiguration):
		return TagConfiguration
	case errors.Is(err, docker.ErrRuntimeUnavailable), errors.Is(err, docker.ErrContainerAbsent):
		return TagRuntimeUnavailable
	case errors.Is(err, rcon.ErrPresenceUnknown), errors.Is(err, rcon.ErrUnreachable):
		return TagPresenceUnknown
	case errors.Is(err, git.ErrSessionAlreadyOpen):
		return TagSessionAlreadyOpen
	case errors.Is(err, git.ErrSyncRemote):
		return TagSyncRemote
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrNotRunning), errors.Is(err, ErrInvalidPhase),
		errors.Is(err, git.ErrNoSession), errors.Is(err, git.ErrNotCloned):
		return TagInvalidPhase
	default:
		return TagInternal
	}
}
