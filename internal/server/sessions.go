package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/imagex/internal/pipeline"
)

var (
	errSessionNotFound = errors.New("session not found")
	errTooManySessions = errors.New("too many sessions")
)

// session wraps one pipeline. mu serializes HTTP access to it.
type session struct {
	pipeline    *pipeline.Pipeline
	unsubscribe func()
	lastUsed    time.Time
	id          string
	mu          sync.Mutex
}

func (sess *session) touch() {
	sess.lastUsed = time.Now()
}

func (sess *session) close() {
	sess.unsubscribe()
	sess.pipeline.Close()
}

func (s *Server) newSession() (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.cfg.MaxSessions {
		return nil, fmt.Errorf("%w (limit %d)", errTooManySessions, s.cfg.MaxSessions)
	}

	id := uuid.NewString()
	p, err := pipeline.New(pipeline.Options{
		Logger: s.log().With("session", id),
		OnTransition: func(from, to pipeline.State) {
			if to == pipeline.StateDecoding {
				s.activeDecodes.Add(1)
			}
			if from == pipeline.StateDecoding {
				s.activeDecodes.Add(-1)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	sess := &session{
		id:       id,
		pipeline: p,
		lastUsed: time.Now(),
	}
	sess.unsubscribe = p.Subscribe(func(pipeline.Frame) {
		s.totalRenders.Add(1)
	})
	s.sessions[id] = sess

	return sess, nil
}

// lookup returns the session and marks it used.
func (s *Server) lookup(id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSessionNotFound, id)
	}

	sess.mu.Lock()
	sess.touch()
	sess.mu.Unlock()
	return sess, nil
}

func (s *Server) removeSession(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		sess.close()
	}
	return ok
}

// sweeper closes sessions idle for longer than SessionTTL.
func (s *Server) sweeper() {
	interval := s.cfg.SessionTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.expireIdle(now)
		}
	}
}

func (s *Server) expireIdle(now time.Time) int {
	var expired []*session

	s.mu.Lock()
	for id, sess := range s.sessions {
		// TryLock skips sessions that are serving a request right now.
		if !sess.mu.TryLock() {
			continue
		}
		idle := now.Sub(sess.lastUsed)
		sess.mu.Unlock()
		if idle > s.cfg.SessionTTL {
			delete(s.sessions, id)
			expired = append(expired, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.close()
		s.expiredCounter.Add(1)
		s.log().Info("session expired", "session", sess.id)
	}
	return len(expired)
}
