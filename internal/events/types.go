// Package events defines the event types published while sessions and
// matches run.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session events
	EventSessionStatus  EventType = "session_status"
	EventStatusMismatch EventType = "status_mismatch"
	EventSessionCleanup EventType = "session_cleanup"

	// Match events
	EventMatchPhase   EventType = "match_phase"
	EventMatchEnded   EventType = "match_ended"
	EventMatchAborted EventType = "match_aborted"

	// System events
	EventProcessStats EventType = "process_stats"
	EventShutdown     EventType = "shutdown"
)

// SessionPhase is where a session is in its local lifecycle. It only moves
// forward, except that any phase may jump to Quit.
type SessionPhase int

const (
	PhaseUnstarted SessionPhase = iota
	PhaseLaunched
	PhaseConnected
	PhaseMatchCreated
	PhaseJoined
	PhasePlaying
	PhaseEnded
	PhaseQuit
)

var sessionPhaseStrings = map[SessionPhase]string{
	PhaseUnstarted:    "unstarted",
	PhaseLaunched:     "launched",
	PhaseConnected:    "connected",
	PhaseMatchCreated: "match_created",
	PhaseJoined:       "joined",
	PhasePlaying:      "playing",
	PhaseEnded:        "ended",
	PhaseQuit:         "quit",
}

// String returns the string representation of SessionPhase.
func (p SessionPhase) String() string {
	if str, ok := sessionPhaseStrings[p]; ok {
		return str
	}
	return "unstarted"
}

// MarshalJSON serializes SessionPhase as a JSON string (e.g. "joined").
func (p SessionPhase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionStatusPayload is emitted after every response a session receives.
type SessionStatusPayload struct {
	Player    string `json:"player"`
	Port      int    `json:"port"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
	Phase     string `json:"phase"`
}

// StatusMismatchPayload is emitted when a response carries a status other
// than the one the operation expects.
type StatusMismatchPayload struct {
	Player    string    `json:"player"`
	Port      int       `json:"port"`
	Operation string    `json:"operation"`
	Expected  string    `json:"expected"`
	Observed  string    `json:"observed"`
	At        time.Time `json:"at"`
}

// SessionCleanupPayload is emitted once a session released its resources.
type SessionCleanupPayload struct {
	Player string `json:"player"`
	Port   int    `json:"port"`
	Errors int    `json:"errors"`
}

// MatchPhasePayload is emitted when the orchestrator enters a phase.
type MatchPhasePayload struct {
	MatchID string `json:"match_id"`
	Phase   string `json:"phase"`
}

// PlayerOutcome is one bot's result in a finished match.
type PlayerOutcome struct {
	PlayerID   uint32 `json:"player_id"`
	PlayerName string `json:"player_name"`
	Outcome    string `json:"outcome"`
}

// MatchEndedPayload is emitted once every bot session has a result.
type MatchEndedPayload struct {
	MatchID  string          `json:"match_id"`
	Map      string          `json:"map"`
	Steps    int             `json:"steps"`
	Duration time.Duration   `json:"duration"`
	Results  []PlayerOutcome `json:"results"`
}

// MatchAbortedPayload is emitted when a match fails before completing.
type MatchAbortedPayload struct {
	MatchID string `json:"match_id"`
	Phase   string `json:"phase"`
	Error   string `json:"error"`
}

// ProcessStatsPayload carries one resource sample of an engine client.
type ProcessStatsPayload struct {
	Player     string  `json:"player"`
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
}
