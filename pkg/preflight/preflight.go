package preflight

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/worldkeeper/worldkeeper/pkg/log"
	"github.com/worldkeeper/worldkeeper/pkg/runtime/tools"
)

// CheckLevel represents the severity level of a preflight check
type CheckLevel int

const (
	// LevelError indicates a critical failure that prevents execution
	LevelError CheckLevel = iota
	// LevelWarn indicates a warning that should be addressed but doesn't block execution
	LevelWarn
	// LevelInfo indicates informational output
	LevelInfo
)

func (l CheckLevel) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	default:
		return "ok"
	}
}

// CheckResult represents the result of a single preflight check
type CheckResult struct {
	Name    string     // Check name
	Level   CheckLevel // Severity level
	Message string     // Human-readable message
	Error   error      // Underlying error (if any)
}

// Check represents a single preflight check
type Check interface {
	// Name returns the check name
	Name() string
	// Run executes the check and returns a CheckResult
	Run(ctx context.Context) CheckResult
}

// Checker runs a collection of preflight checks
type Checker struct {
	checks  []Check
	skipped bool
	quiet   bool
}

// Config configures the preflight checker
type Config struct {
	// Skip skips all preflight checks
	Skip bool
	// Quiet suppresses info-level messages
	Quiet bool
	// Engine pings the container engine; nil skips the check
	Engine func(ctx context.Context) error
	// RequireTools checks the host commands from the tools contract
	RequireTools bool
	// WorkDir is the server directory for permission checks
	WorkDir string
	// StateDir holds the disk space check's scratch file; it sits next to
	// the world without touching it
	StateDir string
	// RemoteURL is the mirror repository
	RemoteURL string
	// Remote probes RemoteURL; nil only checks that it is configured
	Remote func(ctx context.Context) error
	// RegistryURL is probed for image pulls; empty skips the check
	RegistryURL string
}

// NewChecker creates a new preflight checker with the given configuration
func NewChecker(cfg Config) *Checker {
	c := &Checker{
		skipped: cfg.Skip,
		quiet:   cfg.Quiet,
	}

	if cfg.Engine != nil {
		c.checks = append(c.checks, &EngineCheck{Ping: cfg.Engine})
	}
	if cfg.RequireTools {
		c.checks = append(c.checks, &ToolsCheck{})
	}
	if cfg.WorkDir != "" {
		c.checks = append(c.checks, &WorkDirCheck{Path: cfg.WorkDir})
		c.checks = append(c.checks, &DiskSpaceCheck{Path: cfg.StateDir})
	}
	c.checks = append(c.checks, &RemoteCheck{URL: cfg.RemoteURL, Probe: cfg.Remote})
	if cfg.RegistryURL != "" {
		c.checks = append(c.checks, &NetworkCheck{URL: cfg.RegistryURL})
	}

	return c
}

// Checks returns the configured checks.
func (c *Checker) Checks() []Check {
	return c.checks
}

// RunAll executes every check and returns the results in order.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := make([]CheckResult, 0, len(c.checks))
	for _, check := range c.checks {
		results = append(results, check.Run(ctx))
	}
	return results
}

// Run executes all registered checks and returns an error if any critical checks fail
func (c *Checker) Run(ctx context.Context) error {
	if c.skipped {
		log.Info("preflight checks skipped")
		return nil
	}

	log.Progress("running preflight checks")

	var errors []error
	var warnings []string

	for _, result := range c.RunAll(ctx) {
		switch result.Level {
		case LevelError:
			log.Error("preflight check failed", "check", result.Name, "message", result.Message)
			if result.Error != nil {
				errors = append(errors, fmt.Errorf("%s: %w", result.Name, result.Error))
			} else {
				errors = append(errors, fmt.Errorf("%s: %s", result.Name, result.Message))
			}
		case LevelWarn:
			log.Warn("preflight check warning", "check", result.Name, "message", result.Message)
			warnings = append(warnings, fmt.Sprintf("%s: %s", result.Name, result.Message))
		case LevelInfo:
			if !c.quiet {
				log.Info("preflight check", "check", result.Name, "message", result.Message)
			}
		}
	}

	if len(warnings) > 0 {
		log.Info("preflight warnings", "count", len(warnings))
	}

	if len(errors) > 0 {
		var errMsgs []string
		for _, err := range errors {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("preflight checks failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}

	log.Progress("preflight checks passed")
	return nil
}

// EngineCheck checks that the container engine answers
type EngineCheck struct {
	Ping func(ctx context.Context) error
}

func (c *EngineCheck) Name() string {
	return "engine"
}

func (c *EngineCheck) Run(ctx context.Context) CheckResult {
	// Use a timeout context to avoid hanging
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.Ping(checkCtx); err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "docker daemon is not running or not accessible. Start Docker or set docker.host.",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: "docker daemon is reachable",
	}
}

// ToolsCheck checks the host commands from the tools contract
type ToolsCheck struct {
	// LookPath defaults to exec.LookPath
	LookPath func(file string) (string, error)
}

func (c *ToolsCheck) Name() string {
	return "tools"
}

func (c *ToolsCheck) Run(ctx context.Context) CheckResult {
	lookPath := c.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	var missing []string
	for _, cmd := range tools.RequiredCommandsList() {
		if _, err := lookPath(cmd); err != nil {
			missing = append(missing, cmd)
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("required commands not found: %s", strings.Join(missing, ", ")),
			Error:   fmt.Errorf("missing %s", strings.Join(missing, ", ")),
		}
	}

	var absent []string
	for _, cmd := range tools.OptionalCommandsList() {
		if _, err := lookPath(cmd); err != nil {
			absent = append(absent, cmd)
		}
	}

	msg := "required commands available"
	if version := gitVersion(ctx); version != "" {
		msg = fmt.Sprintf("%s (%s)", msg, version)
	}
	if len(absent) > 0 {
		msg = fmt.Sprintf("%s; optional commands missing: %s", msg, strings.Join(absent, ", "))
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: msg,
	}
}

func gitVersion(ctx context.Context) string {
	output, err := exec.CommandContext(ctx, "git", "--version").CombinedOutput()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

// WorkDirCheck checks that the server directory exists (or can be created)
// and is writable
type WorkDirCheck struct {
	Path string
}

func (c *WorkDirCheck) Name() string {
	return "work-dir"
}

func (c *WorkDirCheck) Run(ctx context.Context) CheckResult {
	// Resolve absolute path
	absPath, err := filepath.Abs(c.Path)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("failed to resolve work dir: %s", c.Path),
			Error:   err,
		}
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return CheckResult{
				Name:    c.Name(),
				Level:   LevelError,
				Message: fmt.Sprintf("cannot access work dir: %s", absPath),
				Error:   err,
			}
		}
		if err := os.MkdirAll(absPath, 0755); err != nil {
			return CheckResult{
				Name:    c.Name(),
				Level:   LevelError,
				Message: fmt.Sprintf("cannot create work dir: %s", absPath),
				Error:   err,
			}
		}
	} else if !info.IsDir() {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("work dir is not a directory: %s", absPath),
			Error:   fmt.Errorf("not a directory"),
		}
	}

	// Check if directory is writable by creating a temporary file
	testFile := filepath.Join(absPath, fmt.Sprintf(".worldkeeper-write-test-%d", os.Getpid()))
	f, err := os.Create(testFile)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("work dir is not writable: %s", absPath),
			Error:   err,
		}
	}
	f.Close()
	_ = os.Remove(testFile)

	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("work dir is writable: %s", absPath),
	}
}

// RemoteCheck checks that the mirror repository is configured and reachable
type RemoteCheck struct {
	URL   string
	Probe func(ctx context.Context) error
}

func (c *RemoteCheck) Name() string {
	return "remote"
}

func (c *RemoteCheck) Run(ctx context.Context) CheckResult {
	if c.URL == "" {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "no repository configured. Set repo.url or WORLDKEEPER_REPO_URL",
			Error:   fmt.Errorf("repo.url is empty"),
		}
	}
	if c.Probe == nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelInfo,
			Message: fmt.Sprintf("repository configured: %s", c.URL),
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := c.Probe(checkCtx); err != nil {
		// The controller keeps working offline, so this only warns.
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: fmt.Sprintf("repository not reachable: %s", c.URL),
			Error:   err,
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("repository reachable: %s", c.URL),
	}
}

// NetworkCheck performs a basic connectivity check against the image
// registry. Any HTTP response counts as reachable.
type NetworkCheck struct {
	URL string
}

func (c *NetworkCheck) Name() string {
	return "registry"
}

func (c *NetworkCheck) Run(ctx context.Context) CheckResult {
	// Create a request with timeout
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, c.URL, nil)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: "failed to create registry check request",
			Error:   err,
		}
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
	}
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: "image registry unreachable; a cached image will be used if present",
			Error:   err,
		}
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		log.Debug("failed to drain response body", "error", err)
	}

	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("image registry reachable (HTTP %d)", resp.StatusCode),
	}
}

// DiskSpaceCheck checks that the host has room for saves and the git objects
// an autosave writes. The scratch file goes to Path, never the world
// directory.
type DiskSpaceCheck struct {
	// Path is created when missing; empty means os.TempDir
	Path string
	// HeadroomMB is written and removed again; 0 means DefaultHeadroomMB
	HeadroomMB int
}

// DefaultHeadroomMB is enough for a few region files per autosave.
const DefaultHeadroomMB = 10

func (c *DiskSpaceCheck) Name() string {
	return "disk-space"
}

func (c *DiskSpaceCheck) Run(ctx context.Context) CheckResult {
	path := c.Path
	if path == "" {
		path = os.TempDir()
	}
	headroom := c.HeadroomMB
	if headroom <= 0 {
		headroom = DefaultHeadroomMB
	}

	// Writing a scratch file works the same on every platform.
	if err := os.MkdirAll(path, 0755); err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: fmt.Sprintf("cannot verify disk space (cannot create %s)", path),
			Error:   err,
		}
	}
	scratch, err := os.CreateTemp(path, ".worldkeeper-dspace-*")
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: "cannot verify disk space (write test failed)",
			Error:   err,
		}
	}
	defer func() {
		scratch.Close()
		_ = os.Remove(scratch.Name())
	}()

	chunk := make([]byte, 1024*1024)
	for i := 0; i < headroom; i++ {
		if ctx.Err() != nil {
			return CheckResult{Name: c.Name(), Level: LevelWarn, Message: "disk space check interrupted", Error: ctx.Err()}
		}
		if _, err := scratch.Write(chunk); err != nil {
			return CheckResult{
				Name:    c.Name(),
				Level:   LevelWarn,
				Message: fmt.Sprintf("less than %dMB free for world saves", headroom),
				Error:   err,
			}
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("at least %dMB free for world saves", headroom),
	}
}
