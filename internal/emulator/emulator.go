// Package emulator is a stand-in engine: it serves the engine API over a
// websocket and walks the same status lifecycle as the real engine, without
// simulating a game.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrtknauer/pycraft2/internal/protocol"
)

// DefaultMatchLength is how many steps a match lasts before it ends.
const DefaultMatchLength = 10

// Engine error codes the emulator reports.
const (
	createErrMissingMap         int32 = 1
	createErrMissingPlayerSetup int32 = 6
	joinErrMissingParticipation int32 = 1
)

// Config controls the emulated engine.
type Config struct {
	Address string
	// Port 0 picks any free port.
	Port int

	// MatchLength is the number of steps after which observations report
	// the match as ended.
	MatchLength int
	GameVersion string
	BaseBuild   uint32

	// Results, when set, replaces the results reported for an ended match.
	Results []protocol.PlayerResult
	// StatusOverrides forces the status reported for a request kind
	// without changing the emulator's own state.
	StatusOverrides map[protocol.RequestKind]protocol.Status
}

// Emulator is one emulated engine instance. It accepts one API connection
// at a time.
type Emulator struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	status   protocol.Status
	players  []protocol.PlayerSetup
	created  bool
	playerID uint32
	steps    int
	gameLoop uint32
	requests []protocol.RequestKind
	lastJoin *protocol.JoinGameRequest

	upgrader websocket.Upgrader
	listener net.Listener
	server   *http.Server
	done     chan struct{}
	doneOnce sync.Once
}

// New creates an emulator in the launched state.
func New(cfg Config) *Emulator {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1"
	}
	if cfg.MatchLength <= 0 {
		cfg.MatchLength = DefaultMatchLength
	}
	if cfg.GameVersion == "" {
		cfg.GameVersion = "4.10.0.75689"
	}
	if cfg.BaseBuild == 0 {
		cfg.BaseBuild = 75689
	}

	return &Emulator{
		cfg:    cfg,
		status: protocol.StatusLaunched,
		done:   make(chan struct{}),
		logger: log.With().Str("component", "emulator").Logger(),
	}
}

// Start listens on the configured endpoint and serves the API in the
// background.
func (e *Emulator) Start() error {
	addr := net.JoinHostPort(e.cfg.Address, strconv.Itoa(e.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/sc2api", e)

	e.listener = ln
	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	e.logger = log.With().
		Str("component", "emulator").
		Int("port", e.Port()).
		Logger()
	e.logger.Info().Str("addr", ln.Addr().String()).Msg("emulated engine listening")

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error().Err(err).Msg("emulated engine server failed")
		}
	}()
	return nil
}

// Port returns the port the emulator listens on.
func (e *Emulator) Port() int {
	if e.listener == nil {
		return e.cfg.Port
	}
	return e.listener.Addr().(*net.TCPAddr).Port
}

// Done is closed once the emulator has answered a quit request.
func (e *Emulator) Done() <-chan struct{} {
	return e.done
}

// Close stops serving.
func (e *Emulator) Close() error {
	if e.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return e.server.Shutdown(ctx)
}

// Requests returns the kinds of every request handled so far, in order.
func (e *Emulator) Requests() []protocol.RequestKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]protocol.RequestKind(nil), e.requests...)
}

// LastJoin returns the most recent join request, or nil.
func (e *Emulator) LastJoin() *protocol.JoinGameRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastJoin == nil {
		return nil
	}
	join := *e.lastJoin
	return &join
}

// Status returns the emulator's own status.
func (e *Emulator) Status() protocol.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// ServeHTTP upgrades the connection and answers requests until the peer
// goes away or sends quit.
func (e *Emulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				e.logger.Debug().Err(err).Msg("api connection closed")
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		resp := e.handleFrame(data)
		out, err := protocol.EncodeResponse(resp)
		if err != nil {
			e.logger.Error().Err(err).Msg("failed to encode response")
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
			e.logger.Debug().Err(err).Msg("failed to write response")
			return
		}

		if resp.Kind == protocol.KindQuit {
			e.doneOnce.Do(func() { close(e.done) })
			return
		}
	}
}

func (e *Emulator) handleFrame(data []byte) *protocol.Response {
	req, err := protocol.DecodeRequest(data)
	if err != nil {
		e.logger.Warn().Err(err).Msg("rejected malformed request")
		return &protocol.Response{Status: e.Status(), Errors: []string{err.Error()}}
	}
	return e.Handle(req)
}

// Handle applies one request to the emulated engine and returns the
// response the engine would send.
func (e *Emulator) Handle(req protocol.Request) *protocol.Response {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.requests = append(e.requests, req.Kind())
	e.logger.Debug().Stringer("request", req.Kind()).Stringer("status", e.status).Msg("request")
	resp := &protocol.Response{Kind: req.Kind()}

	switch r := req.(type) {
	case protocol.PingRequest:
		resp.Ping = &protocol.PingResponse{
			GameVersion: e.cfg.GameVersion,
			BaseBuild:   e.cfg.BaseBuild,
			DataBuild:   e.cfg.BaseBuild,
		}

	case protocol.CreateGameRequest:
		if e.status != protocol.StatusLaunched {
			resp.Errors = append(resp.Errors, "create_game is only valid when launched")
			resp.CreateGame = &protocol.CreateGameResponse{}
			break
		}
		resp.CreateGame = e.createGame(r)

	case protocol.JoinGameRequest:
		e.lastJoin = &r
		resp.JoinGame = e.joinGame(r)

	case protocol.ObservationRequest:
		if e.status == protocol.StatusInGame && e.steps >= e.cfg.MatchLength {
			e.status = protocol.StatusEnded
			e.logger.Info().Int("steps", e.steps).Msg("emulated match ended")
		}
		obs := &protocol.ObservationResponse{GameLoop: e.gameLoop}
		if e.status == protocol.StatusEnded {
			obs.PlayerResults = e.results()
		}
		resp.Observation = obs

	case protocol.StepRequest:
		if e.status == protocol.StatusInGame {
			e.steps++
			e.gameLoop += r.Count
		} else {
			resp.Errors = append(resp.Errors, "step is only valid in game")
		}
		resp.Step = &protocol.StepResponse{SimulationLoop: e.gameLoop}

	case protocol.LeaveGameRequest:
		e.resetGame()
		e.status = protocol.StatusLaunched

	case protocol.QuitRequest:
		e.status = protocol.StatusQuit
	}

	resp.Status = e.status
	if s, ok := e.cfg.StatusOverrides[req.Kind()]; ok {
		resp.Status = s
	}
	return resp
}

func (e *Emulator) createGame(r protocol.CreateGameRequest) *protocol.CreateGameResponse {
	switch {
	case len(r.MapData) == 0 && r.MapPath == "" && r.BattlenetMapName == "":
		return &protocol.CreateGameResponse{Error: createErrMissingMap, ErrorDetails: "no map supplied"}
	case len(r.Players) == 0:
		return &protocol.CreateGameResponse{Error: createErrMissingPlayerSetup, ErrorDetails: "no player setup"}
	}

	e.players = append([]protocol.PlayerSetup(nil), r.Players...)
	e.created = true
	e.status = protocol.StatusInitGame
	return &protocol.CreateGameResponse{}
}

func (e *Emulator) joinGame(r protocol.JoinGameRequest) *protocol.JoinGameResponse {
	if r.Race == protocol.RaceNone && r.ObservedPlayerID == 0 {
		return &protocol.JoinGameResponse{
			Error:        joinErrMissingParticipation,
			ErrorDetails: "join needs a race or an observed player",
		}
	}
	if e.status != protocol.StatusInitGame && e.status != protocol.StatusLaunched {
		return &protocol.JoinGameResponse{
			Error:        joinErrMissingParticipation,
			ErrorDetails: "engine is not accepting joins",
		}
	}

	// The host joins the game it created; a networked peer joins remotely.
	e.playerID = 2
	if e.created {
		e.playerID = 1
	}
	e.status = protocol.StatusInGame
	return &protocol.JoinGameResponse{PlayerID: e.playerID}
}

// results reports a win for player 1 and a loss for everyone else.
func (e *Emulator) results() []protocol.PlayerResult {
	if e.cfg.Results != nil {
		return append([]protocol.PlayerResult(nil), e.cfg.Results...)
	}

	n := max(len(e.players), int(e.playerID), 1)
	results := make([]protocol.PlayerResult, 0, n)
	for id := 1; id <= n; id++ {
		outcome := protocol.ResultDefeat
		if id == 1 {
			outcome = protocol.ResultVictory
		}
		results = append(results, protocol.PlayerResult{PlayerID: uint32(id), Result: outcome})
	}
	return results
}

func (e *Emulator) resetGame() {
	e.players = nil
	e.created = false
	e.playerID = 0
	e.steps = 0
	e.gameLoop = 0
}
