// Package handlers exposes the kiosk control API over gin.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/faceid/internal/device"
	"github.com/example/faceid/internal/form"
	"github.com/example/faceid/internal/metrics"
	"github.com/example/faceid/internal/packager"
	"github.com/example/faceid/internal/repository"
	"github.com/example/faceid/internal/usecase"
	"github.com/example/faceid/internal/verification"
)

// Session is the orchestrator as seen by the control API.
type Session interface {
	Snapshot() usecase.Snapshot
	Preview() ([]byte, bool)
	ActiveStreams() int
	Devices(ctx context.Context) ([]device.CaptureDevice, string, error)
	SwitchDevice(ctx context.Context, deviceID string) error
	StartCapture(req usecase.CaptureRequest) error
	StartSubmit() error
	IdentityChanged() bool
	Retry(ctx context.Context) error
	GetAttempt(ctx context.Context, attemptID string) (*usecase.AttemptRecord, error)
}

// IdentityForm is the identity collaborator written by the control API.
type IdentityForm interface {
	Update(fields form.Fields) form.Result
	Fields() form.Fields
	Result() form.Result
}

type captureRequest struct {
	Route      string `json:"route"`
	MultiFrame bool   `json:"multi_frame"`
}

type switchRequest struct {
	ID string `json:"id"`
}

// Handler serves the control API for one session.
type Handler struct {
	session Session
	form    IdentityForm
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New returns a Handler.
func New(session Session, identity IdentityForm, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{session: session, form: identity, metrics: m, logger: logger.Named("handlers")}
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Every middleware in
// protect guards the session, device and attempt routes.
func RegisterRoutes(router *gin.Engine, h *Handler, protect ...gin.HandlerFunc) {
	router.Use(h.countRequests)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(h.metrics.Handler(func() {
		h.metrics.SetActiveStreams(h.session.ActiveStreams())
	})))

	api := router.Group("/", protect...)
	api.GET("/devices", h.listDevices)
	api.PUT("/devices/active", h.switchDevice)
	api.GET("/session", h.getSession)
	api.GET("/session/preview", h.getPreview)
	api.GET("/session/identity", h.getIdentity)
	api.PUT("/session/identity", h.putIdentity)
	api.POST("/session/capture", h.capture)
	api.POST("/session/submit", h.submit)
	api.POST("/session/retry", h.retry)
	api.GET("/attempts/:id", h.getAttempt)
}

func (h *Handler) countRequests(c *gin.Context) {
	h.metrics.IncRequests()
	c.Next()
	if c.Writer.Status() >= http.StatusBadRequest {
		h.metrics.IncErrors()
	}
}

func (h *Handler) listDevices(c *gin.Context) {
	devices, selected, err := h.session.Devices(c.Request.Context())
	if err != nil {
		h.logger.Warn("device listing failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": "DEVICE_ENUMERATION_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "selected": selected})
}

func (h *Handler) switchDevice(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	if err := h.session.SwitchDevice(c.Request.Context(), req.ID); err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.Snapshot())
}

func (h *Handler) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Snapshot())
}

func (h *Handler) getPreview(c *gin.Context) {
	data, ok := h.session.Preview()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame captured"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *Handler) getIdentity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fields": h.form.Fields(), "validation": h.form.Result()})
}

func (h *Handler) putIdentity(c *gin.Context) {
	var fields form.Fields
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity payload"})
		return
	}
	result := h.form.Update(fields)
	submitting := false
	if result.Valid {
		submitting = h.session.IdentityChanged()
	}
	c.JSON(http.StatusOK, gin.H{"valid": result.Valid, "errors": result.Errors, "submitting": submitting})
}

func (h *Handler) capture(c *gin.Context) {
	var body captureRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid capture request"})
		return
	}
	req := usecase.CaptureRequest{}
	switch body.Route {
	case "enroll":
		req.Route = verification.Enroll
	case "authenticate":
		req.Route = verification.Authenticate
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "route must be enroll or authenticate"})
		return
	}
	if body.MultiFrame {
		if req.Route != verification.Enroll {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multi_frame is only supported for enroll"})
			return
		}
		req.Mode = packager.MultiFrame
	}
	if err := h.session.StartCapture(req); err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.session.Snapshot())
}

func (h *Handler) submit(c *gin.Context) {
	if err := h.session.StartSubmit(); err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.session.Snapshot())
}

func (h *Handler) retry(c *gin.Context) {
	if err := h.session.Retry(c.Request.Context()); err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.Snapshot())
}

func (h *Handler) getAttempt(c *gin.Context) {
	attemptID := c.Param("id")
	if attemptID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	rec, err := h.session.GetAttempt(c.Request.Context(), attemptID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	}
	if err != nil {
		h.logger.Error("attempt lookup failed", zap.String("attempt_id", attemptID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "attempt lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// actionError maps a rejected session action to a status code.
func (h *Handler) actionError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrBusy), errors.Is(err, usecase.ErrNeedsRetry):
		status = http.StatusConflict
	case errors.Is(err, usecase.ErrNothingToSubmit):
		status = http.StatusConflict
	case errors.Is(err, usecase.ErrIncompleteIdentity):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, usecase.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error(), "state": h.session.Snapshot().State})
}
