package docker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// fakeEngine is an in-memory Engine holding at most one container per name.
type fakeEngine struct {
	mu         sync.Mutex
	containers map[string]*ContainerState
	calls      []string
	nextID     int

	pullErr    error
	createErr  error
	inspectErr error
	logs       string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{containers: map[string]*ContainerState{}}
}

func (f *fakeEngine) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeEngine) byID(id string) *ContainerState {
	for _, c := range f.containers {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (f *fakeEngine) Ping(context.Context) error { return nil }

func (f *fakeEngine) Inspect(_ context.Context, name string) (ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectErr != nil {
		return ContainerState{}, f.inspectErr
	}
	c, ok := f.containers[name]
	if !ok {
		return ContainerState{Name: name, Status: StatusAbsent}, nil
	}
	return *c, nil
}

func (f *fakeEngine) PullImage(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull")
	return f.pullErr
}

func (f *fakeEngine) Create(_ context.Context, spec *Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create")
	if f.createErr != nil {
		return "", f.createErr
	}
	if _, exists := f.containers[spec.Name]; exists {
		return "", fmt.Errorf("conflict: container %s already exists", spec.Name)
	}
	f.nextID++
	id := fmt.Sprintf("c%d", f.nextID)
	f.containers[spec.Name] = &ContainerState{
		ID:         id,
		Name:       spec.Name,
		Status:     StatusCreated,
		Ports:      spec.Ports,
		WorkDir:    spec.WorkDir,
		Image:      spec.Image,
		ConfigHash: spec.Labels[LabelConfigHash],
	}
	return id, nil
}

func (f *fakeEngine) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start")
	c := f.byID(id)
	if c == nil {
		return fmt.Errorf("no such container %s", id)
	}
	c.Status = StatusRunning
	return nil
}

func (f *fakeEngine) Stop(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop")
	c := f.byID(id)
	if c == nil {
		return fmt.Errorf("no such container %s", id)
	}
	c.Status = StatusExited
	return nil
}

func (f *fakeEngine) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove")
	c := f.byID(id)
	if c == nil {
		return fmt.Errorf("no such container %s", id)
	}
	delete(f.containers, c.Name)
	return nil
}

func (f *fakeEngine) Logs(_ context.Context, _ string, _ LogOptions, w io.Writer) error {
	_, err := io.WriteString(w, f.logs)
	return err
}

func (f *fakeEngine) Close() error { return nil }
