package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestEngineCheck(t *testing.T) {
	ctx := context.Background()

	check := &EngineCheck{Ping: func(context.Context) error { return nil }}
	result := check.Run(ctx)
	if result.Name != "engine" {
		t.Errorf("expected name 'engine', got '%s'", result.Name)
	}
	if result.Level != LevelInfo {
		t.Errorf("expected LevelInfo, got %v", result.Level)
	}

	check = &EngineCheck{Ping: func(context.Context) error { return errors.New("connection refused") }}
	result = check.Run(ctx)
	if result.Level != LevelError {
		t.Errorf("expected LevelError when ping fails, got %v", result.Level)
	}
}

func TestToolsCheck(t *testing.T) {
	ctx := context.Background()

	check := &ToolsCheck{LookPath: func(file string) (string, error) { return "/usr/bin/" + file, nil }}
	result := check.Run(ctx)
	if result.Name != "tools" {
		t.Errorf("expected name 'tools', got '%s'", result.Name)
	}
	if result.Level != LevelInfo {
		t.Errorf("expected LevelInfo, got %v: %s", result.Level, result.Message)
	}

	check = &ToolsCheck{LookPath: func(file string) (string, error) {
		if file == "git" {
			return "", exec.ErrNotFound
		}
		return "/usr/bin/" + file, nil
	}}
	result = check.Run(ctx)
	if result.Level != LevelError {
		t.Errorf("expected LevelError without git, got %v", result.Level)
	}
	if !strings.Contains(result.Message, "git") {
		t.Errorf("expected message to name git, got %q", result.Message)
	}

	check = &ToolsCheck{LookPath: func(file string) (string, error) {
		if file == "docker" {
			return "", exec.ErrNotFound
		}
		return "/usr/bin/" + file, nil
	}}
	result = check.Run(ctx)
	if result.Level != LevelInfo {
		t.Errorf("expected LevelInfo without docker CLI, got %v", result.Level)
	}
	if !strings.Contains(result.Message, "optional commands missing: docker") {
		t.Errorf("expected optional command note, got %q", result.Message)
	}
}

func TestWorkDirCheck(t *testing.T) {
	ctx := context.Background()

	tempDir := t.TempDir()
	check := &WorkDirCheck{Path: tempDir}
	result := check.Run(ctx)

	if result.Name != "work-dir" {
		t.Errorf("expected name 'work-dir', got '%s'", result.Name)
	}
	if result.Level != LevelInfo {
		t.Errorf("expected LevelInfo for writable directory, got %v: %s", result.Level, result.Message)
	}

	// Test with directory that doesn't exist (should create it)
	newDir := filepath.Join(tempDir, "server")
	check = &WorkDirCheck{Path: newDir}
	result = check.Run(ctx)
	if result.Level != LevelInfo {
		t.Errorf("expected LevelInfo for creatable directory, got %v: %s", result.Level, result.Message)
	}
	if _, err := os.Stat(newDir); err != nil {
		t.Errorf("expected directory to be created: %v", err)
	}

	// A file is not a work dir
	file := filepath.Join(tempDir, "server.jar")
	if err := os.WriteFile(file, []byte("jar"), 0644); err != nil {
		t.Fatal(err)
	}
	check = &WorkDirCheck{Path: file}
	result = check.Run(ctx)
	if result.Level != LevelError {
		t.Errorf("expected LevelError for a file, got %v", result.Level)
	}
}

func TestRemoteCheck(t *testing.T) {
	ctx := context.Background()

	result := (&RemoteCheck{}).Run(ctx)
	if result.Level != LevelError {
		t.Errorf("expected LevelError without URL, got %v", result.Level)
	}

	result = (&RemoteCheck{URL: "https://example.com/world.git"}).Run(ctx)
	if result.Level != LevelInfo {
		t.Errorf("expected LevelInfo without probe, got %v", result.Level)
	}

	result = (&RemoteCheck{
		URL:   "https://example.com/world.git",
		Probe: func(context.Context) error { return errors.New("authentication required") },
	}).Run(ctx)
	if result.Level != LevelWarn {
		t.Errorf("expected LevelWarn for unreachable remote, got %v", result.Level)
	}
}

func TestNetworkCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := (&NetworkCheck{URL: srv.URL}).Run(context.Background())
	if result.Level != LevelInfo {
		t.Errorf("expected LevelInfo for any HTTP response, got %v: %s", result.Level, result.Message)
	}

	srv.Close()
	result = (&NetworkCheck{URL: srv.URL}).Run(context.Background())
	if result.Level != LevelWarn {
		t.Errorf("expected LevelWarn for closed server, got %v", result.Level)
	}
}

func TestDiskSpaceCheck(t *testing.T) {
	tempDir := t.TempDir()
	check := &DiskSpaceCheck{Path: tempDir}
	ctx := context.Background()

	result := check.Run(ctx)

	if result.Level != LevelWarn && result.Level != LevelInfo {
		t.Errorf("expected LevelWarn or LevelInfo, got %v", result.Level)
	}

	t.Logf("DiskSpaceCheck result: level=%d, message=%s", result.Level, result.Message)

	small := &DiskSpaceCheck{Path: tempDir, HeadroomMB: 1}
	if result := small.Run(ctx); result.Level == LevelInfo && !strings.Contains(result.Message, "1MB") {
		t.Errorf("unexpected message: %s", result.Message)
	}
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch file left behind: %v", entries)
	}

	stateDir := filepath.Join(t.TempDir(), "state")
	if result := (&DiskSpaceCheck{Path: stateDir, HeadroomMB: 1}).Run(ctx); result.Level == LevelError {
		t.Errorf("unexpected error for missing state dir: %s", result.Message)
	}
	if _, err := os.Stat(stateDir); err != nil {
		t.Errorf("state dir not created: %v", err)
	}
}

func TestCheckerKeepsWorkDirClean(t *testing.T) {
	workDir := t.TempDir()
	stateDir := filepath.Join(t.TempDir(), ".worldkeeper")

	checker := NewChecker(Config{WorkDir: workDir, StateDir: stateDir, Quiet: true})
	for _, check := range checker.checks {
		check.Run(context.Background())
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("work dir not left empty: %v", entries)
	}
}

func TestChecker(t *testing.T) {
	tempDir := t.TempDir()

	cfg := Config{
		Engine:    func(context.Context) error { return nil },
		WorkDir:   tempDir,
		RemoteURL: "https://example.com/world.git",
		Remote:    func(context.Context) error { return nil },
	}

	checker := NewChecker(cfg)
	if len(checker.Checks()) != 4 {
		t.Errorf("expected 4 checks, got %d", len(checker.Checks()))
	}

	if err := checker.Run(context.Background()); err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
}

func TestCheckerSkip(t *testing.T) {
	cfg := Config{
		Skip: true,
	}

	checker := NewChecker(cfg)
	ctx := context.Background()

	err := checker.Run(ctx)

	// Should succeed immediately since checks are skipped
	if err != nil {
		t.Errorf("expected success when skipped, got error: %v", err)
	}
}

func TestCheckerFailures(t *testing.T) {
	cfg := Config{
		Engine:  func(context.Context) error { return errors.New("daemon down") },
		WorkDir: t.TempDir(),
	}

	checker := NewChecker(cfg)
	results := checker.RunAll(context.Background())

	var failed []string
	for _, r := range results {
		if r.Level == LevelError {
			failed = append(failed, r.Name)
		}
	}
	if strings.Join(failed, ",") != "engine,remote" {
		t.Errorf("expected engine and remote to fail, got %v", failed)
	}

	err := checker.Run(context.Background())
	if err == nil {
		t.Fatal("expected error when the engine is down")
	}
	if !strings.Contains(err.Error(), "daemon down") {
		t.Errorf("expected underlying error in message, got %v", err)
	}
}

func TestCheckLevelString(t *testing.T) {
	tests := []struct {
		level CheckLevel
		want  string
	}{
		{LevelError, "error"},
		{LevelWarn, "warn"},
		{LevelInfo, "ok"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("CheckLevel(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}
