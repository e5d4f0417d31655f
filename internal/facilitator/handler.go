package facilitator

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/localx402/facilitator/internal/x402"
)

// Handler exposes the facilitator over HTTP.
type Handler struct {
	dispatcher *Dispatcher
	log        *zap.Logger
}

func NewHandler(d *Dispatcher, log *zap.Logger) *Handler {
	return &Handler{dispatcher: d, log: log}
}

// Register mounts all routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.handleHealth)
	r.GET("/supported", h.handleSupported)
	r.POST("/verify", h.handleVerify)
	r.POST("/settle", h.handleSettle)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, x402.SupportedResponse{
		Kinds: []x402.SupportedKind{
			{X402Version: x402.Version, Scheme: "exact", Network: "base"},
		},
	})
}

func (h *Handler) handleVerify(c *gin.Context) {
	var req x402.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	resp, err := h.dispatcher.Verify(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "verify", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleSettle(c *gin.Context) {
	var req x402.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	resp, err := h.dispatcher.Settle(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "settle", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// writeError classifies dispatch errors without leaking stack traces.
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	var provErr *ProvisioningError
	switch {
	case errors.As(err, &provErr):
		h.log.Error(op+" failed: provisioning", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "provisioning_failed", "message": err.Error()})
	case errors.Is(err, ErrNotInitialized):
		h.log.Error(op+" failed: state not initialized")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "not_initialized"})
	default:
		h.log.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "delegation_failed", "message": err.Error()})
	}
}
