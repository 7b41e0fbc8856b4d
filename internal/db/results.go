package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrtknauer/pycraft2/internal/events"
	"github.com/jrtknauer/pycraft2/internal/util"
)

// Match record statuses.
const (
	StatusEnded   = "ended"
	StatusAborted = "aborted"
)

// ErrMatchNotFound is returned when no match has the requested id.
var ErrMatchNotFound = errors.New("match not found")

// MatchRecord is one stored match run.
type MatchRecord struct {
	MatchID    string                 `json:"match_id"`
	Map        string                 `json:"map"`
	Status     string                 `json:"status"`
	Phase      string                 `json:"phase,omitempty"`
	Steps      int                    `json:"steps"`
	Duration   time.Duration          `json:"duration"`
	Error      string                 `json:"error,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
	Results    []events.PlayerOutcome `json:"results"`
}

// MatchStore keeps the history of match runs.
type MatchStore struct {
	db     *Database
	logger zerolog.Logger
}

// NewMatchStore opens the store at dbPath and creates its schema.
func NewMatchStore(dbPath string) (*MatchStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &MatchStore{db: database, logger: util.ComponentLogger("match_store")}
	if err := s.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate match database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *MatchStore) Close() error {
	return s.db.Close()
}

func (s *MatchStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS matches (
			match_id TEXT PRIMARY KEY,
			map TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			steps INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			recorded_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS match_results (
			match_id TEXT NOT NULL,
			player_id INTEGER NOT NULL,
			player_name TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			PRIMARY KEY (match_id, player_id),
			FOREIGN KEY (match_id) REFERENCES matches(match_id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_matches_recorded_at ON matches(recorded_at);
	`

	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	s.logger.Debug().Msg("database schema migrated")
	return nil
}

// RecordMatch stores rec and its per-player results. Recording the same
// match id twice replaces the earlier record.
func (s *MatchStore) RecordMatch(ctx context.Context, rec MatchRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM matches WHERE match_id = ?", rec.MatchID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO matches (match_id, map, status, phase, steps, duration_ms, error, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.MatchID, rec.Map, rec.Status, rec.Phase, rec.Steps,
			rec.Duration.Milliseconds(), rec.Error, rec.RecordedAt.UnixMilli())
		if err != nil {
			return err
		}

		for _, r := range rec.Results {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO match_results (match_id, player_id, player_name, outcome) VALUES (?, ?, ?, ?)",
				rec.MatchID, int64(r.PlayerID), r.PlayerName, r.Outcome)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record match %s: %w", rec.MatchID, err)
	}

	s.logger.Debug().
		Str("match_id", rec.MatchID).
		Str("status", rec.Status).
		Msg("match recorded")
	return nil
}

// RecentMatches returns up to limit matches, newest first.
func (s *MatchStore) RecentMatches(ctx context.Context, limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx,
		`SELECT match_id, map, status, phase, steps, duration_ms, error, recorded_at
		 FROM matches ORDER BY recorded_at DESC, match_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}

	var records []MatchRecord
	for rows.Next() {
		rec, err := scanMatch(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range records {
		if records[i].Results, err = s.results(ctx, records[i].MatchID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// GetMatch returns the match with the given id.
func (s *MatchStore) GetMatch(ctx context.Context, matchID string) (*MatchRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT match_id, map, status, phase, steps, duration_ms, error, recorded_at
		 FROM matches WHERE match_id = ?`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match %s: %w", matchID, err)
	}

	if !rows.Next() {
		rows.Close()
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	rec, err := scanMatch(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if rec.Results, err = s.results(ctx, matchID); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PruneBefore deletes matches recorded before cutoff, with their results,
// and returns how many were removed.
func (s *MatchStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(ctx, "DELETE FROM matches WHERE recorded_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune matches: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Count returns the number of stored matches.
func (s *MatchStore) Count(ctx context.Context) (int, error) {
	rows, err := s.db.Query(ctx, "SELECT COUNT(*) FROM matches")
	if err != nil {
		return 0, fmt.Errorf("failed to count matches: %w", err)
	}
	defer rows.Close()

	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

func (s *MatchStore) results(ctx context.Context, matchID string) ([]events.PlayerOutcome, error) {
	rows, err := s.db.Query(ctx,
		"SELECT player_id, player_name, outcome FROM match_results WHERE match_id = ? ORDER BY player_id",
		matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results of %s: %w", matchID, err)
	}
	defer rows.Close()

	outcomes := []events.PlayerOutcome{}
	for rows.Next() {
		var o events.PlayerOutcome
		if err := rows.Scan(&o.PlayerID, &o.PlayerName, &o.Outcome); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func scanMatch(rows *sql.Rows) (MatchRecord, error) {
	var rec MatchRecord
	var durationMS, recordedAt int64
	err := rows.Scan(&rec.MatchID, &rec.Map, &rec.Status, &rec.Phase, &rec.Steps,
		&durationMS, &rec.Error, &recordedAt)
	if err != nil {
		return rec, fmt.Errorf("failed to scan match: %w", err)
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.RecordedAt = time.UnixMilli(recordedAt)
	return rec, nil
}

// Subscribe records every finished or aborted match published on bus.
func (s *MatchStore) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventMatchEnded, "db.matchEnded", s.onMatchEnded)
	bus.Subscribe(events.EventMatchAborted, "db.matchAborted", s.onMatchAborted)
}

func (s *MatchStore) onMatchEnded(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.MatchEndedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	return s.RecordMatch(ctx, MatchRecord{
		MatchID:  p.MatchID,
		Map:      p.Map,
		Status:   StatusEnded,
		Steps:    p.Steps,
		Duration: p.Duration,
		Results:  p.Results,
	})
}

func (s *MatchStore) onMatchAborted(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.MatchAbortedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	return s.RecordMatch(ctx, MatchRecord{
		MatchID: p.MatchID,
		Status:  StatusAborted,
		Phase:   p.Phase,
		Error:   p.Error,
	})
}
