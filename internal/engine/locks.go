package engine

import "sync"

// taskLocks serializes the check-then-act sequences (assign, complete,
// delete) per task id. Entries are never evicted; the table is bounded
// by the number of tasks ever touched in this process.
type taskLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTaskLocks() *taskLocks {
	return &taskLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the per-task mutex and returns its release func.
func (l *taskLocks) acquire(taskID string) func() {
	l.mu.Lock()
	m, ok := l.locks[taskID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[taskID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
