// Package api exposes the analysis engine over HTTP: a trace endpoint, chain
// and health listings, and a websocket stream for HIGH-risk alerts.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rawblock/kyt-engine/internal/cache"
	"github.com/rawblock/kyt-engine/internal/chains"
	"github.com/rawblock/kyt-engine/internal/provider"
	"github.com/rawblock/kyt-engine/internal/tracer"
	"github.com/rawblock/kyt-engine/pkg/models"
)

// Handler wires the tracer and its collaborators into HTTP routes.
type Handler struct {
	tracer *tracer.Tracer
	prov   provider.BlockchainProvider
	cache  cache.Backend
	hub    *Hub
	log    *zap.SugaredLogger
}

// TraceRequest is the analyze payload. Chain defaults to ethereum and depth
// to 3, matching the most common KYT lookup.
type TraceRequest struct {
	TxHash string `json:"txHash" binding:"required"`
	Chain  string `json:"chain"`
	Depth  int    `json:"depth"`
}

// SetupRouter builds the gin engine with all routes registered.
func SetupRouter(t *tracer.Tracer, prov provider.BlockchainProvider, c cache.Backend, hub *Hub, log *zap.SugaredLogger) *gin.Engine {
	h := &Handler{tracer: t, prov: prov, cache: c, hub: hub, log: log}

	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	{
		v1.POST("/trace", h.trace)
		v1.GET("/chains", h.chains)
		v1.GET("/health", h.health)
		v1.GET("/stream", hub.Subscribe)
	}
	return r
}

func (h *Handler) trace(c *gin.Context) {
	var req TraceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "txHash is required"})
		return
	}
	if req.Chain == "" {
		req.Chain = "ethereum"
	}
	if req.Depth == 0 {
		req.Depth = 3
	}

	report, err := h.tracer.Analyze(c.Request.Context(), req.Chain, req.TxHash, req.Depth)
	if err != nil {
		h.writeError(c, req, err)
		return
	}

	if report.RiskScore.Level == models.RiskLevelHigh {
		h.hub.BroadcastRiskAlert(report)
	}
	c.JSON(http.StatusOK, report)
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, req TraceRequest, err error) {
	var notFound *provider.TxNotFoundError
	var unsupported *provider.UnsupportedChainError
	var invalid *tracer.InvalidTransactionError
	var rateLimited *provider.RateLimitedError
	var breakerOpen *provider.BreakerOpenError
	var timeout *provider.TimeoutError
	var transport *provider.TransportError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "TRANSACTION_NOT_FOUND"})
	case errors.As(err, &unsupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "UNSUPPORTED_CHAIN"})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_TRANSACTION"})
	case errors.As(err, &rateLimited):
		if rateLimited.RetryAfter > 0 {
			c.Header("Retry-After", fmt.Sprintf("%.0f", rateLimited.RetryAfter.Seconds()))
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "code": "RATE_LIMIT_EXCEEDED"})
	case errors.As(err, &breakerOpen), errors.As(err, &timeout), errors.As(err, &transport):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "PROVIDER_UNAVAILABLE"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "analysis cancelled", "code": "CANCELLED"})
	default:
		h.log.Errorw("trace failed", "chain", req.Chain, "txid", req.TxHash, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "INTERNAL"})
	}
}

func (h *Handler) chains(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chains": chains.Supported()})
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	status := http.StatusOK
	out := gin.H{"status": "ok", "time": time.Now().UTC()}

	if err := h.cache.Ping(ctx); err != nil {
		out["cache"] = err.Error()
		out["status"] = "degraded"
		status = http.StatusServiceUnavailable
	} else {
		out["cache"] = "ok"
	}
	if err := h.prov.HealthCheck(ctx); err != nil {
		out["provider"] = err.Error()
		out["status"] = "degraded"
		status = http.StatusServiceUnavailable
	} else {
		out["provider"] = "ok"
	}
	c.JSON(status, out)
}
