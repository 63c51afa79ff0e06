// Package tasktest provides a manually driven task.Scheduler.
package tasktest

import (
	"sort"
	"sync"

	"github.com/keshon/salabot/internal/task"
)

// Scheduler fires armed callbacks only when Tick is called.
type Scheduler struct {
	mu     sync.Mutex
	next   task.Handle
	active map[task.Handle]func()
}

func New() *Scheduler {
	return &Scheduler{active: make(map[task.Handle]func())}
}

func (s *Scheduler) Arm(spec string, fire func()) (task.Handle, error) {
	if err := task.Validate(spec); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.active[s.next] = fire
	return s.next, nil
}

func (s *Scheduler) Disarm(h task.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, h)
}

// Tick runs every armed callback once, in arming order, on the calling goroutine.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	handles := make([]task.Handle, 0, len(s.active))
	for h := range s.active {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	fns := make([]func(), len(handles))
	for i, h := range handles {
		fns[i] = s.active[h]
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Armed returns the number of armed callbacks.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

var _ task.Scheduler = (*Scheduler)(nil)
