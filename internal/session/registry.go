// Package session keeps one detector per signal source.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ColonelBlimp/qrsdetect/internal/qrs"
	"github.com/ColonelBlimp/qrsdetect/internal/rhythm"
)

// ErrEmptySource indicates a sample batch arrived without a source name.
var ErrEmptySource = errors.New("source name must not be empty")

// Result is one accepted beat together with the rhythm after it.
type Result struct {
	Beat  qrs.Beat
	Stats rhythm.Stats
}

// Session owns the detector and rhythm tracker of a single source.
// Calls into a session are serialised, so the detector always sees a
// single writer even when batches for the same source race.
type Session struct {
	ID      uuid.UUID
	Source  string
	Started time.Time

	mu       sync.Mutex
	detector *qrs.Detector
	tracker  *rhythm.Tracker
	lastSeen time.Time
	samples  int64
}

// Feed runs a batch through the detector and returns the accepted beats.
func (s *Session) Feed(samples []float64, now time.Time) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen = now
	s.samples += int64(len(samples))

	var results []Result
	for _, v := range samples {
		if beat, ok := s.detector.Process(v); ok {
			results = append(results, Result{Beat: beat, Stats: s.tracker.Add(beat)})
		}
	}
	return results
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info()
}

func (s *Session) info() Info {
	return Info{
		ID:       s.ID,
		Source:   s.Source,
		Started:  s.Started,
		LastSeen: s.lastSeen,
		Samples:  s.samples,
		Stats:    s.tracker.Stats(),
	}
}

// Info is a read-only view of a session.
type Info struct {
	ID       uuid.UUID
	Source   string
	Started  time.Time
	LastSeen time.Time
	Samples  int64
	Stats    rhythm.Stats
}

// Option configures a Registry.
type Option func(r *Registry)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry is a thread-safe map from source name to session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	detector qrs.Config
	rhythm   rhythm.Config
	now      func() time.Time

	// beforeFeed runs between lookup and feeding; tests use it to race Evict
	beforeFeed func()
}

// NewRegistry creates an empty registry. Every session it creates uses
// the given detector and rhythm configuration, both validated up front.
func NewRegistry(dc qrs.Config, rc rhythm.Config, opts ...Option) (*Registry, error) {
	if err := dc.Validate(); err != nil {
		return nil, fmt.Errorf("detector config: %w", err)
	}
	if _, err := rhythm.NewTracker(rc); err != nil {
		return nil, fmt.Errorf("rhythm config: %w", err)
	}

	r := &Registry{
		sessions: make(map[string]*Session),
		detector: dc,
		rhythm:   rc,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Get returns the session for source, creating it if needed. created
// reports whether a new session was started.
func (r *Registry) Get(source string) (s *Session, created bool, err error) {
	if source == "" {
		return nil, false, ErrEmptySource
	}

	r.mu.RLock()
	s, ok := r.sessions[source]
	r.mu.RUnlock()
	if ok {
		return s, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have won the race
	if s, ok := r.sessions[source]; ok {
		return s, false, nil
	}

	det, err := qrs.New(r.detector)
	if err != nil {
		return nil, false, err
	}
	tr, err := rhythm.NewTracker(r.rhythm)
	if err != nil {
		return nil, false, err
	}
	now := r.now()
	s = &Session{
		ID:       uuid.New(),
		Source:   source,
		Started:  now,
		detector: det,
		tracker:  tr,
		lastSeen: now,
	}
	r.sessions[source] = s
	return s, true, nil
}

// Feed routes a batch to the session of source. The registry stays read
// locked while the batch runs, so Evict and Remove never release a
// session mid-batch. A session released between lookup and feeding is
// replaced by a fresh one.
func (r *Registry) Feed(source string, samples []float64) (*Session, []Result, error) {
	for {
		s, _, err := r.Get(source)
		if err != nil {
			return nil, nil, err
		}
		if r.beforeFeed != nil {
			r.beforeFeed()
		}

		r.mu.RLock()
		if r.sessions[source] != s {
			r.mu.RUnlock()
			continue
		}
		results := s.Feed(samples, r.now())
		r.mu.RUnlock()
		return s, results, nil
	}
}

// Evict releases sessions not fed within timeout and returns what they
// looked like when released.
func (r *Registry) Evict(timeout time.Duration) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-timeout)
	var evicted []Info
	for source, s := range r.sessions {
		s.mu.Lock()
		if s.lastSeen.Before(cutoff) {
			evicted = append(evicted, s.info())
			delete(r.sessions, source)
		}
		s.mu.Unlock()
	}
	sortInfos(evicted)
	return evicted
}

// Remove releases the session of source, if any.
func (r *Registry) Remove(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[source]; !ok {
		return false
	}
	delete(r.sessions, source)
	return true
}

// Snapshot returns every session, sorted by source.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sortInfos(out)
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Source < infos[j].Source
	})
}
