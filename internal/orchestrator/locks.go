package orchestrator

import (
	"context"
	"sync"
)

type sessionLock struct {
	ch   chan struct{}
	refs int
}

// sessionLocks serialises runs per conversation session while runs of different sessions proceed in parallel.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{
		mu:    sync.Mutex{},
		locks: make(map[string]*sessionLock),
	}
}

// acquire blocks until the session is free or ctx is done. The returned release must be called exactly once.
func (s *sessionLocks) acquire(ctx context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sessionLock{ch: make(chan struct{}, 1), refs: 0}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		return func() {
			<-lock.ch
			s.unref(sessionID, lock)
		}, nil
	case <-ctx.Done():
		s.unref(sessionID, lock)
		return nil, ctx.Err()
	}
}

func (s *sessionLocks) unref(sessionID string, lock *sessionLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, sessionID)
	}
}
