package docker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldkeeper/worldkeeper/pkg/environment"
	"github.com/worldkeeper/worldkeeper/pkg/properties"
)

func newTestManager(t *testing.T) (*Manager, *fakeEngine, string) {
	t.Helper()
	dir := t.TempDir()
	engine := newFakeEngine()
	m := NewManager(engine, Config{
		ContainerName: "mc-server",
		Image:         "itzg/minecraft-server:latest",
		WorkDir:       dir,
		Version:       "LATEST",
		EULA:          true,
		ServerPort:    25565,
		RCONPort:      25575,
		RCONPassword:  "pw",
	})
	return m, engine, dir
}

var paper = environment.Desired{
	Kind:     environment.KindCustom,
	Artifact: "paper-1.21.1.jar",
	Memory:   environment.Memory{Value: "4G"},
	Headless: true,
}

func TestEnsureContainerCreatesOnce(t *testing.T) {
	m, engine, dir := newTestManager(t)
	ctx := context.Background()

	state, err := m.EnsureContainer(ctx, paper)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, state.Status)
	assert.Equal(t, dir, state.WorkDir)
	assert.NotEmpty(t, state.ConfigHash)

	_, err = m.EnsureContainer(ctx, paper)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.count("create"))
	assert.Equal(t, 0, engine.count("remove"))
}

func TestEnsureContainerRecreatesOnChange(t *testing.T) {
	m, engine, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.EnsureContainer(ctx, paper)
	require.NoError(t, err)
	_, err = m.Start(ctx)
	require.NoError(t, err)

	bigger := paper
	bigger.Memory = environment.Memory{Value: "8G"}
	state, err := m.EnsureContainer(ctx, bigger)
	require.NoError(t, err)

	assert.Equal(t, 2, engine.count("create"))
	assert.Equal(t, 1, engine.count("stop"))
	assert.Equal(t, 1, engine.count("remove"))
	assert.Equal(t, StatusCreated, state.Status)
	assert.Equal(t, m.Spec(bigger).Labels[LabelConfigHash], state.ConfigHash)
}

func TestEnsureContainerPullFailureIsWarning(t *testing.T) {
	m, engine, _ := newTestManager(t)
	engine.pullErr = errors.New("registry down")

	state, err := m.EnsureContainer(context.Background(), paper)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, state.Status)
}

func TestEnsureContainerCreateFailure(t *testing.T) {
	m, engine, _ := newTestManager(t)
	engine.createErr = errors.New("no space left")

	_, err := m.EnsureContainer(context.Background(), paper)
	require.ErrorIs(t, err, ErrRuntimeUnavailable)
}

func TestStartStopIdempotent(t *testing.T) {
	m, engine, dir := newTestManager(t)
	ctx := context.Background()

	_, err := m.Start(ctx)
	require.ErrorIs(t, err, ErrContainerAbsent)

	state, err := m.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, state.Status)

	_, err = m.EnsureContainer(ctx, paper)
	require.NoError(t, err)

	state, err = m.Start(ctx)
	require.NoError(t, err)
	assert.True(t, state.Running())
	_, err = m.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.count("start"))

	state, err = m.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusExited, state.Status)
	_, err = m.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.count("stop"))

	// Start rewrote the server configuration.
	f, err := properties.Load(filepath.Join(dir, properties.FileName))
	require.NoError(t, err)
	v, _ := f.Get("enable-rcon")
	assert.Equal(t, "true", v)
	v, _ = f.Get("rcon.password")
	assert.Equal(t, "pw", v)
	_, err = os.Stat(filepath.Join(dir, properties.EULAFileName))
	require.NoError(t, err)
}

func TestStatusEngineFailure(t *testing.T) {
	m, engine, _ := newTestManager(t)
	engine.inspectErr = errors.New("daemon not reachable")

	_, err := m.Status(context.Background())
	require.ErrorIs(t, err, ErrRuntimeUnavailable)
}

func TestRemove(t *testing.T) {
	m, engine, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Remove(ctx))
	assert.Equal(t, 0, engine.count("remove"))

	_, err := m.EnsureContainer(ctx, paper)
	require.NoError(t, err)
	_, err = m.Start(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx))
	state, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, state.Status)
}

func TestLogs(t *testing.T) {
	m, engine, _ := newTestManager(t)
	ctx := context.Background()
	engine.logs = "[Server thread/INFO]: Done (3.2s)!\n"

	var buf bytes.Buffer
	require.ErrorIs(t, m.Logs(ctx, LogOptions{}, &buf), ErrContainerAbsent)

	_, err := m.EnsureContainer(ctx, paper)
	require.NoError(t, err)
	require.NoError(t, m.Logs(ctx, LogOptions{Tail: "10"}, &buf))
	assert.Contains(t, buf.String(), "Done (3.2s)!")
}
