package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/chainguard/internal/decision"
	"github.com/mbd888/chainguard/internal/logging"
	"github.com/mbd888/chainguard/internal/validation"
)

const defaultCheckHistoryLimit = 20

// -----------------------------------------------------------------------------
// Intelligence
// -----------------------------------------------------------------------------

// intelHandler runs the full analysis for an address and returns the raw
// intelligence result: breakdown, flags, calculation and explanation.
func (s *Server) intelHandler(c *gin.Context) {
	address := c.Param("address")
	if !validation.IsValidEthAddress(address) {
		badAddress(c)
		return
	}

	result := s.engine.Analyze(c.Request.Context(), address)
	c.JSON(http.StatusOK, result)
}

// decideHandler maps a score to a decision without running analysis.
// Threshold defaults to the guardian threshold when omitted.
func (s *Server) decideHandler(c *gin.Context) {
	var req struct {
		Score     *int `json:"score"`
		Threshold *int `json:"threshold"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Score == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must include a numeric score",
		})
		return
	}

	threshold := s.cfg.GuardianThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	d := decision.Decide(*req.Score, threshold)
	c.JSON(http.StatusOK, gin.H{
		"decision":           d,
		"recommended_action": decision.RecommendedAction(d.Level),
	})
}

// -----------------------------------------------------------------------------
// Guardian
// -----------------------------------------------------------------------------

func (s *Server) guardianCheckHandler(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must include an address",
		})
		return
	}
	if !validation.IsValidEthAddress(req.Address) {
		badAddress(c)
		return
	}

	resp := s.manager.Guardian().Check(c.Request.Context(), validation.SanitizeAddress(req.Address))
	c.JSON(http.StatusOK, resp)
}

func (s *Server) guardianStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Guardian().Status())
}

// guardianChecksHandler returns the recorded check history for one address,
// most recent first.
func (s *Server) guardianChecksHandler(c *gin.Context) {
	address := c.Param("address")
	if !validation.IsValidEthAddress(address) {
		badAddress(c)
		return
	}

	limit := defaultCheckHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.auditStore.ListByAddress(c.Request.Context(), address, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("audit lookup failed",
			"address", address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read check history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": validation.SanitizeAddress(address),
		"checks":  records,
		"count":   len(records),
	})
}

// -----------------------------------------------------------------------------
// Sentinel
// -----------------------------------------------------------------------------

func (s *Server) watchlistHandler(c *gin.Context) {
	list := s.manager.Sentinel().Watchlist()
	c.JSON(http.StatusOK, gin.H{
		"addresses": list,
		"count":     len(list),
	})
}

func (s *Server) addWatchHandler(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must include an address",
		})
		return
	}
	if !validation.IsValidEthAddress(req.Address) {
		badAddress(c)
		return
	}

	if err := s.manager.Sentinel().AddWatch(req.Address); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "watch_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"address": validation.SanitizeAddress(req.Address),
		"watched": true,
	})
}

func (s *Server) removeWatchHandler(c *gin.Context) {
	address := c.Param("address")
	if !validation.IsValidEthAddress(address) {
		badAddress(c)
		return
	}

	if !s.manager.Sentinel().RemoveWatch(address) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_watched",
			"message": "Address is not on the watchlist",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": validation.SanitizeAddress(address),
		"watched": false,
	})
}

func (s *Server) alertsHandler(c *gin.Context) {
	alerts := s.manager.Sentinel().Alerts()
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) sentinelStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Sentinel().Status())
}

// -----------------------------------------------------------------------------
// Agents and realtime
// -----------------------------------------------------------------------------

func (s *Server) agentsStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"agents": s.manager.Status(),
	})
}

func (s *Server) wsHandler(c *gin.Context) {
	s.hub.HandleWebSocket(c.Writer, c.Request)
}

func badAddress(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_address",
		"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
	})
}
