package http

import (
	"errors"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/stratawm/strata/scripting/internal/script"
)

// health reports liveness.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"service":        "scriptd",
		"uptime_seconds": s.eng.Metrics().GetSnapshot().UptimeSeconds,
	})
}

// stats returns runtime internals and metric counters as one JSON
// document.
func (s *Server) stats(c *gin.Context) {
	s.renderJSON(c, gin.H{
		"runtime": s.eng.Runtime().Stats(),
		"metrics": s.eng.Metrics().GetSnapshot(),
	})
}

// events returns the recent-emission ring, oldest first.
func (s *Server) events(c *gin.Context) {
	entries := s.history.Recent()
	s.renderJSON(c, gin.H{"count": len(entries), "events": entries})
}

type emitRequest struct {
	Event   string `json:"event" binding:"required"`
	Payload any    `json:"payload"`
}

// emit injects an event as if the compositor had raised it. Handy for
// exercising handlers without driving the real host.
func (s *Server) emit(c *gin.Context) {
	var req emitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := s.eng.Runtime().EmitHost(req.Event, req.Payload)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, script.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": req.Event, "handlers": n})
}

// renderJSON writes doc through sonic instead of gin's default
// encoder; stats and history payloads embed arbitrary script values.
func (s *Server) renderJSON(c *gin.Context, doc any) {
	buf, err := sonic.Marshal(doc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", buf)
}
