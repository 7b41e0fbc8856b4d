package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrtknauer/pycraft2/internal/config"
	"github.com/jrtknauer/pycraft2/internal/db"
	"github.com/jrtknauer/pycraft2/internal/events"
	"github.com/jrtknauer/pycraft2/internal/protocol"
	"github.com/jrtknauer/pycraft2/internal/server"
)

type fakeSource struct {
	snaps []server.SessionSnapshot
}

func (f *fakeSource) MatchID() string                     { return "m-42" }
func (f *fakeSource) Snapshots() []server.SessionSnapshot { return f.snaps }

type fakeHistory struct {
	records []db.MatchRecord
	err     error
	limit   int
}

func (f *fakeHistory) RecentMatches(_ context.Context, limit int) ([]db.MatchRecord, error) {
	f.limit = limit
	return f.records, f.err
}

func (f *fakeHistory) GetMatch(_ context.Context, id string) (*db.MatchRecord, error) {
	for _, r := range f.records {
		if r.MatchID == id {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", db.ErrMatchNotFound, id)
}

func newTestServer(source SessionSource, history MatchHistory) *Server {
	return NewServer(config.APIConfig{Address: "127.0.0.1"}, false, source, history)
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestPing(t *testing.T) {
	rec, body := get(t, newTestServer(nil, nil), "/api/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pycraft2", body["service"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestSessionsEndpoints(t *testing.T) {
	source := &fakeSource{snaps: []server.SessionSnapshot{
		{Player: "bot-a", Port: 5001, Status: protocol.StatusInGame, Phase: events.PhasePlaying, Steps: 3},
		{Player: "bot-b", Port: 5002, Status: protocol.StatusInGame, Phase: events.PhasePlaying, Steps: 3},
	}}
	s := newTestServer(source, nil)

	rec, body := get(t, s, "/api/match")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m-42", body["match_id"])
	assert.Len(t, body["sessions"], 2)

	rec, body = get(t, s, "/api/sessions/5002")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bot-b", body["player"])
	assert.Equal(t, "playing", body["phase"])

	rec, _ = get(t, s, "/api/sessions/6000")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = get(t, s, "/api/sessions/not-a-port")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchWithoutSource(t *testing.T) {
	rec, _ := get(t, newTestServer(nil, nil), "/api/match")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMatchHistoryEndpoints(t *testing.T) {
	history := &fakeHistory{records: []db.MatchRecord{
		{MatchID: "a", Status: db.StatusEnded, Results: []events.PlayerOutcome{{PlayerID: 1, Outcome: "victory"}}},
		{MatchID: "b", Status: db.StatusAborted, Phase: "join", Error: "boom"},
	}}
	s := newTestServer(nil, history)

	rec, body := get(t, s, "/api/matches?limit=5")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, history.limit)
	assert.Len(t, body["matches"], 2)

	rec, _ = get(t, s, "/api/matches?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = get(t, s, "/api/matches/b")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "join", body["phase"])

	rec, _ = get(t, s, "/api/matches/zzz")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMatchHistoryFailures(t *testing.T) {
	rec, _ := get(t, newTestServer(nil, nil), "/api/matches")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = get(t, newTestServer(nil, &fakeHistory{err: errors.New("disk gone")}), "/api/matches")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnknownAPIRoute(t *testing.T) {
	rec, body := get(t, newTestServer(nil, nil), "/api/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "endpoint not found", body["error"])
}
