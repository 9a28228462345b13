package git

import (
	"context"
	"errors"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
)

// RemoteInfo is the result of ProbeRemote.
type RemoteInfo struct {
	Empty     bool
	HasTrunk  bool
	Sessions  int
	RefsTotal int
}

// ProbeRemote lists the remote's references without a local repository.
func ProbeRemote(ctx context.Context, opts Options) (RemoteInfo, error) {
	c := &Controller{opts: opts}
	if c.opts.Trunk == "" {
		c.opts.Trunk = "main"
	}
	if c.opts.SessionPrefix == "" {
		c.opts.SessionPrefix = "sessions"
	}

	remote := gogit.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: RemoteName,
		URLs: []string{opts.RemoteURL},
	})
	refs, err := remote.ListContext(ctx, &gogit.ListOptions{Auth: c.auth()})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return RemoteInfo{Empty: true}, nil
	}
	if err != nil {
		return RemoteInfo{}, remoteErr("ls-remote", err)
	}

	var info RemoteInfo
	prefix := plumbing.NewBranchReferenceName(c.opts.SessionPrefix + "/").String()
	for _, ref := range refs {
		info.RefsTotal++
		switch {
		case ref.Name() == c.trunkRef():
			info.HasTrunk = true
		case strings.HasPrefix(ref.Name().String(), prefix):
			info.Sessions++
		}
	}
	info.Empty = info.RefsTotal == 0
	return info, nil
}
