// Package session keeps the per-browser state of the chat UI in memory: the API key entered in the
// settings, the transcript, and the single agent run allowed at a time.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MegaGrindStone/chat-search/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for an unknown or expired session.
	ErrNotFound = errors.New("session not found")
	// ErrBusy is returned by Begin when the session already has an agent run in flight.
	ErrBusy = errors.New("a request is already in progress for this session")
	// ErrStaleRun is returned by AppendReply when the run was ended or the session reset meanwhile.
	ErrStaleRun = errors.New("run is no longer active")
)

// DefaultIdleTimeout is used by NewStore when a non-positive idle timeout is given.
const DefaultIdleTimeout = 24 * time.Hour

// Store holds every live session. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry

	idleTimeout time.Duration
	now         func() time.Time
	lastRun     uint64

	logger *slog.Logger
}

type entry struct {
	apiKey   string
	messages models.Transcript
	lastSeen time.Time

	// run identifies the agent run in flight, zero when idle.
	run    uint64
	cancel context.CancelFunc
}

// NewStore creates an empty Store whose sessions expire after idleTimeout without activity.
func NewStore(idleTimeout time.Duration, logger *slog.Logger) *Store {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Store{
		sessions:    make(map[string]*entry),
		idleTimeout: idleTimeout,
		now:         time.Now,
		logger:      logger.With(slog.String("module", "session")),
	}
}

// Create starts a new session whose transcript holds only the greeting and returns its ID.
func (s *Store) Create() string {
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[id] = &entry{
		messages: models.Transcript{models.Greeting()},
		lastSeen: s.now(),
	}
	return id
}

// Get reports whether the session exists and marks it as active.
func (s *Store) Get(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.touch(id)
	return err == nil
}

// APIKey returns the API key stored in the session, empty when none was entered.
func (s *Store) APIKey(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.touch(id)
	if err != nil {
		return "", err
	}
	return e.apiKey, nil
}

// SetAPIKey replaces the API key of the session. An empty key clears it.
func (s *Store) SetAPIKey(id, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.touch(id)
	if err != nil {
		return err
	}
	e.apiKey = key
	return nil
}

// Messages returns a copy of the session transcript.
func (s *Store) Messages(id string) (models.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.touch(id)
	if err != nil {
		return nil, err
	}
	return append(models.Transcript(nil), e.messages...), nil
}

// Append adds msg to the end of the session transcript.
func (s *Store) Append(id string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.touch(id)
	if err != nil {
		return err
	}
	e.messages = append(e.messages, msg)
	return nil
}

// Begin claims the single active-request slot of the session and returns the ID of the new run. cancel
// is called if the session is reset or expires before End is called.
func (s *Store) Begin(id string, cancel context.CancelFunc) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.touch(id)
	if err != nil {
		return 0, err
	}
	if e.run != 0 {
		return 0, ErrBusy
	}
	s.lastRun++
	e.run = s.lastRun
	e.cancel = cancel
	return e.run, nil
}

// AppendReply adds msg to the session transcript on behalf of run. It fails with ErrStaleRun once run
// has ended, so a run cancelled by Reset never writes into the fresh transcript.
func (s *Store) AppendReply(id string, run uint64, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.touch(id)
	if err != nil {
		return err
	}
	if run == 0 || e.run != run {
		return ErrStaleRun
	}
	e.messages = append(e.messages, msg)
	return nil
}

// End releases the active-request slot claimed by run. It is a no-op for unknown sessions and for runs
// that already ended.
func (s *Store) End(id string, run uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok || e.run != run {
		return
	}
	e.run = 0
	e.cancel = nil
	e.lastSeen = s.now()
}

// Reset cancels the in-flight run, if any, and starts a fresh transcript. The API key is kept.
func (s *Store) Reset(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.touch(id)
	if err != nil {
		return err
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.run = 0
	e.cancel = nil
	e.messages = models.Transcript{models.Greeting()}
	return nil
}

// Sweep removes the sessions idle for longer than the idle timeout at now and returns how many were
// removed. Sessions with a run in flight are never idle.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.sessions {
		if e.run != 0 || now.Sub(e.lastSeen) <= s.idleTimeout {
			continue
		}
		if e.cancel != nil {
			e.cancel()
		}
		delete(s.sessions, id)
		removed++
	}
	return removed
}

// Close cancels every in-flight run and drops all sessions.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.sessions {
		if e.cancel != nil {
			e.cancel()
		}
		delete(s.sessions, id)
	}
}

// Run sweeps idle sessions every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if n := s.Sweep(t); n > 0 {
				s.logger.Info("Expired idle sessions", slog.Int("count", n))
			}
		}
	}
}

func (s *Store) touch(id string) (*entry, error) {
	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastSeen = s.now()
	return e, nil
}
