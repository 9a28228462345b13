// Package git mirrors the server directory into a git repository. A session
// branch is opened when the server starts, autosaved while it runs and merged
// into trunk when it stops cleanly.
//
// Repository plumbing (clone, fetch, status, commit, push) uses go-git. The
// few worktree operations go-git cannot express safely go through the system
// git binary (see Client).
package git

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DefaultAuthorName is the commit author when no other identity is configured.
const DefaultAuthorName = "worldkeeper"

// DefaultAuthorEmail is the commit email when no other identity is configured.
const DefaultAuthorEmail = "worldkeeper@localhost"

// Config holds the resolved commit identity.
type Config struct {
	// AuthorName is the git user.name for commits.
	AuthorName string

	// AuthorEmail is the git user.email for commits.
	AuthorEmail string
}

// ConfigOptions holds the identity sources.
type ConfigOptions struct {
	// ExplicitAuthorName comes from worldkeeper.yaml (repo.author_name) and
	// overrides every other source.
	ExplicitAuthorName string

	// ExplicitAuthorEmail comes from worldkeeper.yaml (repo.author_email).
	ExplicitAuthorEmail string

	// EnvAuthorName is GIT_AUTHOR_NAME.
	EnvAuthorName string

	// EnvAuthorEmail is GIT_AUTHOR_EMAIL.
	EnvAuthorEmail string

	// SkipHostConfig ignores the host's git config (used by tests).
	SkipHostConfig bool
}

// ResolveConfig resolves the commit identity with the following priority:
//  1. Explicit values from the configuration file
//  2. Host git config (local > global > system)
//  3. Environment variables (GIT_AUTHOR_NAME, GIT_AUTHOR_EMAIL)
//  4. Defaults ("worldkeeper <worldkeeper@localhost>")
func ResolveConfig(opts ConfigOptions) Config {
	cfg := Config{
		AuthorName:  DefaultAuthorName,
		AuthorEmail: DefaultAuthorEmail,
	}

	if opts.EnvAuthorName != "" {
		cfg.AuthorName = opts.EnvAuthorName
	}
	if opts.EnvAuthorEmail != "" {
		cfg.AuthorEmail = opts.EnvAuthorEmail
	}

	if !opts.SkipHostConfig {
		if hostName := getHostGitConfig("user.name"); hostName != "" {
			cfg.AuthorName = hostName
		}
		if hostEmail := getHostGitConfig("user.email"); hostEmail != "" {
			cfg.AuthorEmail = hostEmail
		}
	}

	if opts.ExplicitAuthorName != "" {
		cfg.AuthorName = opts.ExplicitAuthorName
	}
	if opts.ExplicitAuthorEmail != "" {
		cfg.AuthorEmail = opts.ExplicitAuthorEmail
	}

	return cfg
}

// ResolveConfigFromEnv resolves the identity from explicit values and the
// process environment.
func ResolveConfigFromEnv(explicitName, explicitEmail string) Config {
	return ResolveConfig(ConfigOptions{
		ExplicitAuthorName:  explicitName,
		ExplicitAuthorEmail: explicitEmail,
		EnvAuthorName:       os.Getenv("GIT_AUTHOR_NAME"),
		EnvAuthorEmail:      os.Getenv("GIT_AUTHOR_EMAIL"),
	})
}

// getHostGitConfig reads a git configuration value from the host system.
// Returns empty string if the configuration is not set.
func getHostGitConfig(key string) string {
	cmd := exec.Command("git", "config", "--get", key)
	output, err := cmd.Output()
	if err == nil {
		return strings.TrimSpace(string(output))
	}
	return ""
}

// String renders the identity as "Name <email>".
func (c Config) String() string {
	switch {
	case c.AuthorName == "":
		return c.AuthorEmail
	case c.AuthorEmail == "":
		return c.AuthorName
	}
	return fmt.Sprintf("%s <%s>", c.AuthorName, c.AuthorEmail)
}

// ParseAuthor reads an identity written as "Name <email>". Text without an
// angle-bracketed email is taken as the name.
func ParseAuthor(author string) Config {
	author = strings.TrimSpace(author)
	open := strings.LastIndex(author, "<")
	end := strings.LastIndex(author, ">")
	if open == -1 || end < open {
		return Config{AuthorName: author}
	}
	return Config{
		AuthorName:  strings.TrimSpace(author[:open]),
		AuthorEmail: strings.TrimSpace(author[open+1 : end]),
	}
}
