// Package redact scrubs credentials from text before it is logged or shown to
// an operator: the RCON password, the repository token, credentials embedded
// in remote URLs and secret-looking environment assignments.
package redact

import (
	"os"
	"regexp"
	"sort"
	"strings"
)

// Mode represents the redaction mode.
type Mode string

const (
	// ModeOff disables redaction.
	ModeOff Mode = "off"
	// ModeBasic redacts known secrets, URL credentials and env assignments (default).
	ModeBasic Mode = "basic"

	// DefaultReplacement replaces every redacted value.
	DefaultReplacement = "***REDACTED***"
)

var (
	reURLUserinfo = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)([^/@\s:]+)(:[^/@\s]*)?@`)
	reEnvSecret   = regexp.MustCompile(`(?i)\b(\w*(?:PASSWORD|TOKEN|SECRET|API_KEY))\s*=\s*['"]?([^'"\s]+)['"]?`)
	reGitHubToken = regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9_]{20,}\b`)
)

// Redactor handles redaction.
type Redactor struct {
	mode        Mode
	secrets     []string
	replacement string
}

// Config holds configuration for a Redactor.
type Config struct {
	Mode        Mode
	Secrets     []string // Literal values that must never appear in output
	Replacement string   // Defaults to DefaultReplacement
}

// New creates a new Redactor with the given configuration.
func New(cfg Config) *Redactor {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeBasic
	}

	replacement := cfg.Replacement
	if replacement == "" {
		replacement = DefaultReplacement
	}

	secrets := make([]string, 0, len(cfg.Secrets))
	for _, s := range cfg.Secrets {
		// Very short values would mangle unrelated text.
		if len(strings.TrimSpace(s)) >= 4 {
			secrets = append(secrets, s)
		}
	}
	// Longest first so a secret containing another is replaced whole.
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })

	return &Redactor{
		mode:        mode,
		secrets:     secrets,
		replacement: replacement,
	}
}

// Scrub returns s with all sensitive content replaced.
func (r *Redactor) Scrub(s string) string {
	if r == nil || r.mode == ModeOff || s == "" {
		return s
	}

	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, r.replacement)
	}
	s = reURLUserinfo.ReplaceAllString(s, "${1}"+r.replacement+"@")
	s = reEnvSecret.ReplaceAllString(s, "${1}="+r.replacement)
	s = reGitHubToken.ReplaceAllString(s, r.replacement)
	return s
}

// FromEnv creates a Redactor whose mode comes from WORLDKEEPER_LOG_REDACT.
func FromEnv(secrets ...string) *Redactor {
	mode := Mode(strings.ToLower(os.Getenv("WORLDKEEPER_LOG_REDACT")))
	switch mode {
	case ModeOff, ModeBasic:
	default:
		mode = ModeBasic
	}
	return New(Config{Mode: mode, Secrets: secrets})
}
