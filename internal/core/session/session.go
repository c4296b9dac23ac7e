// Package session accumulates per-identity recognition statistics over a
// live camera feed so that a person can be confirmed present only after
// several consistent sightings.
package session

import (
	"sync"
	"time"

	"attendance-go/internal/core/processor"
	"attendance-go/internal/vision"

	log "github.com/sirupsen/logrus"
)

// IdentityState is the accumulated evidence for one recognized person.
type IdentityState struct {
	Name string `json:"name"`
	// Confidence is the running mean of all accepted sightings.
	Confidence float64   `json:"confidence"`
	Count      int       `json:"count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Session tracks recognitions across consecutive frames of one camera feed.
// Recognitions below the session confidence floor are ignored entirely; this
// floor is independent of the matcher tolerance, which only decides whether a
// face matches at all.
type Session struct {
	mu            sync.Mutex
	source        vision.Source
	proc          *processor.FrameProcessor
	minConfidence float64

	identities map[string]*IdentityState
	order      []string
	startedAt  time.Time
}

// NewSession creates a session over the given source. The session starts
// empty; state builds up through ProcessFrame.
func NewSession(source vision.Source, proc *processor.FrameProcessor, minConfidence float64) *Session {
	return &Session{
		source:        source,
		proc:          proc,
		minConfidence: minConfidence,
		identities:    make(map[string]*IdentityState),
		startedAt:     time.Now(),
	}
}

// ProcessFrame reads one frame from the source, folds its recognitions into
// the session state and returns the updated snapshot. A failed read leaves
// the state untouched and returns the current snapshot.
func (s *Session) ProcessFrame() []IdentityState {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, ok := s.source.ReadFrame()
	if !ok {
		log.Debug("Session frame read failed, state unchanged")
		return s.snapshotLocked()
	}

	result := s.proc.Process(frame, false)
	now := time.Now()
	for _, r := range result.Recognitions {
		if !r.Known || r.Confidence < s.minConfidence {
			continue
		}
		st, exists := s.identities[r.Name]
		if !exists {
			st = &IdentityState{Name: r.Name, FirstSeen: now}
			s.identities[r.Name] = st
			s.order = append(s.order, r.Name)
		}
		st.Confidence = (st.Confidence*float64(st.Count) + r.Confidence) / float64(st.Count+1)
		st.Count++
		st.LastSeen = now
	}
	return s.snapshotLocked()
}

// Snapshot returns the current per-identity state in first-seen order.
func (s *Session) Snapshot() []IdentityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() []IdentityState {
	out := make([]IdentityState, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.identities[name])
	}
	return out
}

// Confirmed returns the identities seen at least minHits times, in first-seen
// order.
func (s *Session) Confirmed(minHits int) []IdentityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]IdentityState, 0)
	for _, name := range s.order {
		if st := s.identities[name]; st.Count >= minHits {
			out = append(out, *st)
		}
	}
	return out
}

// Reset discards all accumulated state and restarts the session clock.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities = make(map[string]*IdentityState)
	s.order = nil
	s.startedAt = time.Now()
}

// StartedAt returns when the session (or its latest reset) began.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}
