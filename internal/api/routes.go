package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jrtknauer/pycraft2/internal/db"
	"github.com/jrtknauer/pycraft2/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pycraft2",
		"version": Version,
	})
}

func (s *Server) handleSystem(c *gin.Context) {
	c.JSON(http.StatusOK, util.GetSystemInfo())
}

// handleMatch returns the id of the running match and its sessions.
func (s *Server) handleMatch(c *gin.Context) {
	if s.source == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no match running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"match_id": s.source.MatchID(),
		"sessions": s.source.Snapshots(),
	})
}

func (s *Server) handleSessions(c *gin.Context) {
	if s.source == nil {
		c.JSON(http.StatusOK, gin.H{"sessions": []interface{}{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": s.source.Snapshots()})
}

// handleSession returns the session whose engine listens on :port.
func (s *Server) handleSession(c *gin.Context) {
	port, err := strconv.ParseUint(c.Param("port"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
		return
	}

	if s.source != nil {
		for _, snap := range s.source.Snapshots() {
			if snap.Port == int(port) {
				c.JSON(http.StatusOK, snap)
				return
			}
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
}

func (s *Server) handleMatches(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "match history is disabled"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	matches, err := s.history.RecentMatches(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list matches")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list matches"})
		return
	}
	if matches == nil {
		matches = []db.MatchRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (s *Server) handleGetMatch(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "match history is disabled"})
		return
	}

	rec, err := s.history.GetMatch(c.Request.Context(), c.Param("match_id"))
	if errors.Is(err, db.ErrMatchNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("match_id", c.Param("match_id")).Msg("failed to load match")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load match"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
