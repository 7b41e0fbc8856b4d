// Package server runs matches: the per-engine session state machine, the
// engine process it drives, and the orchestrators that coordinate sessions.
package server

import (
	"sync"
	"time"

	"github.com/jrtknauer/pycraft2/internal/events"
	"github.com/jrtknauer/pycraft2/internal/match"
	"github.com/jrtknauer/pycraft2/internal/protocol"
)

// SessionState is the thread-safe record of what one session has observed:
// the engine-reported status, the local phase, and what the match produced.
type SessionState struct {
	mu sync.RWMutex

	// Engine-reported status and local lifecycle phase
	Status protocol.Status
	Phase  events.SessionPhase

	// Match info
	PlayerID    uint32
	Result      *match.Result
	GameVersion string
	Steps       int
	GameLoop    uint32

	// Anomalies
	Mismatches []StatusMismatch

	// Timing
	StatusChangedAt time.Time
	PhaseChangedAt  time.Time
	CreatedAt       time.Time
}

// NewSessionState creates a state for a session that has not started.
func NewSessionState() *SessionState {
	now := time.Now()
	return &SessionState{
		Status:          protocol.StatusUnknown,
		Phase:           events.PhaseUnstarted,
		Mismatches:      make([]StatusMismatch, 0),
		StatusChangedAt: now,
		PhaseChangedAt:  now,
		CreatedAt:       now,
	}
}

// SetStatus stores the status and returns the previous one.
func (s *SessionState) SetStatus(status protocol.Status) protocol.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.Status
	if old != status {
		s.Status = status
		s.StatusChangedAt = time.Now()
	}
	return old
}

// GetStatus returns the last observed status.
func (s *SessionState) GetStatus() protocol.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// SetPhase updates the local phase and returns the previous one.
func (s *SessionState) SetPhase(phase events.SessionPhase) events.SessionPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.Phase
	s.Phase = phase
	s.PhaseChangedAt = time.Now()
	return old
}

// GetPhase returns the local phase.
func (s *SessionState) GetPhase() events.SessionPhase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Phase
}

// SetPlayerID stores the engine-assigned player identifier.
func (s *SessionState) SetPlayerID(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayerID = id
}

// GetPlayerID returns the engine-assigned player identifier.
func (s *SessionState) GetPlayerID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PlayerID
}

// SetGameVersion records the version reported by the liveness probe.
func (s *SessionState) SetGameVersion(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GameVersion = v
}

// RecordStep counts one completed step and the loop it reached.
func (s *SessionState) RecordStep(gameLoop uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Steps++
	s.GameLoop = gameLoop
}

// SetResult stores this session's result. Once set it does not change.
func (s *SessionState) SetResult(r match.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Result == nil {
		s.Result = &r
	}
}

// AddMismatch records a status anomaly.
func (s *SessionState) AddMismatch(m StatusMismatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mismatches = append(s.Mismatches, m)
}

// GetMismatches returns a copy of the recorded anomalies.
func (s *SessionState) GetMismatches() []StatusMismatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]StatusMismatch, len(s.Mismatches))
	copy(result, s.Mismatches)
	return result
}

// Snapshot returns a read-only snapshot of the current state.
func (s *SessionState) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result *match.Result
	if s.Result != nil {
		r := *s.Result
		result = &r
	}

	return SessionSnapshot{
		Status:          s.Status,
		Phase:           s.Phase,
		PlayerID:        s.PlayerID,
		Result:          result,
		GameVersion:     s.GameVersion,
		Steps:           s.Steps,
		GameLoop:        s.GameLoop,
		Mismatches:      len(s.Mismatches),
		StatusChangedAt: s.StatusChangedAt,
		PhaseChangedAt:  s.PhaseChangedAt,
	}
}

// SessionSnapshot is an immutable snapshot of a session.
type SessionSnapshot struct {
	Player          string              `json:"player"`
	Port            int                 `json:"port"`
	PID             int                 `json:"pid"`
	Status          protocol.Status     `json:"status"`
	Phase           events.SessionPhase `json:"phase"`
	PlayerID        uint32              `json:"player_id"`
	Result          *match.Result       `json:"result,omitempty"`
	GameVersion     string              `json:"game_version,omitempty"`
	Steps           int                 `json:"steps"`
	GameLoop        uint32              `json:"game_loop"`
	Mismatches      int                 `json:"mismatches"`
	StatusChangedAt time.Time           `json:"status_changed_at"`
	PhaseChangedAt  time.Time           `json:"phase_changed_at"`
}
