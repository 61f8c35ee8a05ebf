package api

import (
	"net/http"
	"strconv"

	"codeberg.org/mutker/anglepub/internal/sample"
	"codeberg.org/mutker/anglepub/internal/sampler"
	"codeberg.org/mutker/anglepub/internal/telemetry"
	"github.com/gin-gonic/gin"
)

const updateSucceeded = "Parameter updated successfully."

type parameterRequest struct {
	FrequencyHz *float64 `json:"frequency_hz"`
	FastMode    *bool    `json:"fast_mode"`
}

type parameterResponse struct {
	Successful bool   `json:"successful"`
	Reason     string `json:"reason"`
}

type statsResponse struct {
	telemetry.Stats
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getParameters(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Parameters())
}

func (s *Server) putParameters(c *gin.Context) {
	var req parameterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, parameterResponse{Reason: err.Error()})
		return
	}

	if err := s.ctrl.Apply(sampler.Update{FrequencyHz: req.FrequencyHz, FastMode: req.FastMode}); err != nil {
		c.JSON(http.StatusUnprocessableEntity, parameterResponse{Reason: err.Error()})
		return
	}

	c.JSON(http.StatusOK, parameterResponse{Successful: true, Reason: updateSucceeded})
}

func (s *Server) latest(c *gin.Context) {
	latest, ok := s.broker.Latest()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, latest.Message(s.frameID))
}

func (s *Server) recent(c *gin.Context) {
	if s.history == nil || !s.history.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "sample history is disabled"})
		return
	}

	limit := defaultHistory
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistory)
	}

	samples, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read sample history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]sample.Message, 0, len(samples))
	for _, smp := range samples {
		out = append(out, smp.Message(s.frameID))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, statsResponse{
		Stats:       s.stats.Snapshot(),
		Topic:       s.broker.Topic(),
		Subscribers: s.broker.Subscribers(),
	})
}
