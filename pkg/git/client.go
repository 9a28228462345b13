package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Client wraps the system git binary for the worktree operations go-git does
// not provide: non-fast-forward merges, merge aborts and hard resets that
// leave untracked files alone.
type Client struct {
	// Dir is the repository working directory.
	Dir string
}

// NewClient creates a Client for dir.
func NewClient(dir string) *Client {
	return &Client{Dir: dir}
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	// Packs written by an automatic gc would be invisible to an already open
	// go-git repository.
	full := append([]string{"-c", "gc.auto=0"}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w: %s", subcommand(args), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func subcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		return args[i]
	}
	return ""
}

// GetHeadSHA returns the commit HEAD points at.
func (c *Client) GetHeadSHA(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "HEAD")
}

// Checkout switches to an existing branch.
func (c *Client) Checkout(ctx context.Context, branch string) error {
	_, err := c.run(ctx, "checkout", "--quiet", branch)
	return err
}

// MergeFastForward advances the current branch to ref if possible.
func (c *Client) MergeFastForward(ctx context.Context, ref string) error {
	_, err := c.run(ctx, "merge", "--ff-only", "--quiet", ref)
	return err
}

// MergeTheirs merges ref into the current branch resolving every conflict in
// favor of ref.
func (c *Client) MergeTheirs(ctx context.Context, ref, message string, author Config) error {
	_, err := c.run(ctx,
		"-c", "user.name="+author.AuthorName,
		"-c", "user.email="+author.AuthorEmail,
		"merge", "--no-ff", "-X", "theirs", "--no-edit", "-m", message, ref)
	return err
}

// MergeAbort abandons an in-progress merge. It is a no-op when none is running.
func (c *Client) MergeAbort(ctx context.Context) error {
	if _, err := c.run(ctx, "rev-parse", "-q", "--verify", "MERGE_HEAD"); err != nil {
		return nil
	}
	_, err := c.run(ctx, "merge", "--abort")
	return err
}

// ResetHard moves the current branch to ref and overwrites tracked files.
// Untracked files are kept.
func (c *Client) ResetHard(ctx context.Context, ref string) error {
	_, err := c.run(ctx, "reset", "--hard", "--quiet", ref)
	return err
}

// RevList returns the commits in a revision range such as "a..b", newest
// first.
func (c *Client) RevList(ctx context.Context, revRange string) ([]string, error) {
	out, err := c.run(ctx, "rev-list", revRange)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Fields(out), nil
}
