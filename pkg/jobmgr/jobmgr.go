// Package jobmgr runs named asynchronous jobs with cancellation and in-memory
// tracking. A name can only run once at a time; starting it again while it runs
// fails with ErrRunning.
//
// Typical usage:
//
//	jm := jobmgr.NewManager(logger)
//
//	err := jm.StartAsync("task:pizzatask", func(ctx context.Context) error {
//	    // do work until ctx is cancelled
//	    return nil
//	})
//
//	// later...
//	jm.Shutdown()
package jobmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrRunning    = errors.New("jobmgr: job is already running")
	ErrNotRunning = errors.New("jobmgr: job is not running")
	ErrShutdown   = errors.New("jobmgr: manager is shut down")
)

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager orchestrates starting, stopping and tracking jobs.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	jobs   map[string]*job
	wg     sync.WaitGroup
	closed bool
	log    *zap.Logger
}

// NewManager creates a new Manager. A nil logger discards job events.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		jobs: make(map[string]*job),
		log:  log,
	}
}

// StartAsync runs a job in a separate goroutine and returns immediately.
// Jobs are removed automatically after completion (success or failure).
func (m *Manager) StartAsync(name string, runner func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrShutdown
	}
	if _, exists := m.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrRunning, name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}
	m.jobs[name] = j
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer close(j.done)
		defer cancel()

		m.log.Debug("job running", zap.String("job", name))
		if err := runner(ctx); err != nil {
			m.log.Error("job failed", zap.String("job", name), zap.Error(err))
		} else {
			m.log.Debug("job done", zap.String("job", name))
		}

		m.mu.Lock()
		if m.jobs[name] == j {
			delete(m.jobs, name)
		}
		m.mu.Unlock()
	}()
	return nil
}

// Stop cancels a running job by name and waits for it to return.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	j, ok := m.jobs[name]
	if ok {
		delete(m.jobs, name)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	j.cancel()
	<-j.done
	return nil
}

// Running reports whether a job with the given name is active.
func (m *Manager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[name]
	return ok
}

// List returns the active job names, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Status returns a human-readable summary of active jobs.
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return fmt.Sprintf("Running jobs: %s", strings.Join(active, ", "))
}

// Shutdown cancels every job, waits for all of them and refuses new ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	for _, j := range m.jobs {
		j.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
