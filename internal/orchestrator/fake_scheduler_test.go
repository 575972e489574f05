package orchestrator

import (
	"context"
	"sync"

	"github.com/clintjedwards/gofer-sub002/internal/scheduler"
)

// fakeScheduler is a minimal in-memory scheduler.Scheduler: StartContainer
// immediately "exits" the container with whatever exit code the test
// pre-registered (0 by default), so the orchestrator's completion-detection
// poll observes a terminal state on its very first tick.
type fakeScheduler struct {
	mu        sync.Mutex
	exitCodes map[string]int64
	states    map[string]scheduler.ContainerState
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{exitCodes: map[string]int64{}, states: map[string]scheduler.ContainerState{}}
}

func (f *fakeScheduler) setExitCode(containerID string, code int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exitCodes[containerID] = code
}

func (f *fakeScheduler) StartContainer(ctx context.Context, req scheduler.StartContainerRequest) (scheduler.StartContainerResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[req.ID] = scheduler.ContainerStateExited
	return scheduler.StartContainerResponse{SchedulerID: req.ID}, nil
}

func (f *fakeScheduler) StopContainer(ctx context.Context, req scheduler.StopContainerRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[req.ID] = scheduler.ContainerStateCancelled
	return nil
}

func (f *fakeScheduler) GetState(ctx context.Context, id string) (scheduler.GetStateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code := f.exitCodes[id]
	return scheduler.GetStateResponse{State: f.states[id], ExitCode: &code}, nil
}

func (f *fakeScheduler) GetLogs(ctx context.Context, id string) (<-chan scheduler.Log, <-chan error, error) {
	out := make(chan scheduler.Log)
	errs := make(chan error)
	close(out)
	close(errs)
	return out, errs, nil
}

func (f *fakeScheduler) AttachContainer(ctx context.Context, id string, command []string) (scheduler.AttachContainerResponse, error) {
	return scheduler.AttachContainerResponse{}, nil
}

var _ scheduler.Scheduler = (*fakeScheduler)(nil)
