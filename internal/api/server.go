package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jrtknauer/pycraft2/internal/config"
	"github.com/jrtknauer/pycraft2/internal/db"
	"github.com/jrtknauer/pycraft2/internal/server"
	"github.com/jrtknauer/pycraft2/internal/util"
)

// Version is reported by the ping endpoint.
var Version = "dev"

// SessionSource exposes the sessions of the match being run.
type SessionSource interface {
	MatchID() string
	Snapshots() []server.SessionSnapshot
}

// MatchHistory exposes stored match runs.
type MatchHistory interface {
	RecentMatches(ctx context.Context, limit int) ([]db.MatchRecord, error)
	GetMatch(ctx context.Context, matchID string) (*db.MatchRecord, error)
}

// Server is the read-only status API of a running match.
type Server struct {
	cfg     config.APIConfig
	source  SessionSource
	history MatchHistory
	logger  zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. history may be nil when match
// history is disabled.
func NewServer(cfg config.APIConfig, debug bool, source SessionSource, history MatchHistory) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		source:  source,
		history: history,
		logger:  util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, for serving outside Start.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Address, fmt.Sprint(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.logger.Info().Str("addr", addr).Msg("status API starting")

	go func() {
		<-ctx.Done()
		if err := s.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("status API shutdown failed")
		}
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/system", s.handleSystem)
		api.GET("/match", s.handleMatch)
		api.GET("/sessions", s.handleSessions)
		api.GET("/sessions/:port", s.handleSession)
		api.GET("/matches", s.handleMatches)
		api.GET("/matches/:match_id", s.handleGetMatch)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "pycraft2 status API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
