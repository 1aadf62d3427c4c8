// Package controller serves the run API over gin.
package controller

import (
	"context"
	"net/http"
	"strings"
	"time"

	"nodeo/internal/evaluator/model"
	"nodeo/internal/evaluator/runner"
	"nodeo/internal/evaluator/service"
	appErr "nodeo/pkg/errors"
	"nodeo/pkg/utils/logger"
	"nodeo/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RunService is what the run endpoints need from the service layer.
type RunService interface {
	Run(ctx context.Context, req model.RunRequest) (model.RunStatusResponse, error)
	Submit(ctx context.Context, input service.SubmitInput) (string, model.RunStatusResponse, error)
	GetStatus(ctx context.Context, runID string) (model.RunStatusResponse, error)
	Watch(ctx context.Context, runID string, interval time.Duration, fn func(model.RunStatusResponse) error) error
	Languages() []runner.LanguageInfo
}

// RunController handles run HTTP endpoints.
type RunController struct {
	runService    RunService
	watchInterval time.Duration
	upgrader      websocket.Upgrader
}

// NewRunController creates a new RunController. A zero watchInterval uses
// the service default.
func NewRunController(runService RunService, watchInterval time.Duration) *RunController {
	return &RunController{
		runService:    runService,
		watchInterval: watchInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the run API under /api/v1. limits run before the
// endpoints that execute code.
func (h *RunController) RegisterRoutes(router gin.IRouter, limits ...gin.HandlerFunc) {
	api := router.Group("/api/v1")
	api.GET("/languages", h.Languages)
	runs := api.Group("/runs")
	limited := runs.Group("", limits...)
	limited.POST("", h.Run)
	limited.POST("/async", h.Submit)
	runs.GET("/:id", h.GetStatus)
	runs.GET("/:id/watch", h.Watch)
}

// Run evaluates the request and answers with the finished run.
func (h *RunController) Run(c *gin.Context) {
	var req model.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	status, err := h.runService.Run(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Submit queues the request.
func (h *RunController) Submit(c *gin.Context) {
	var req model.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	runID, status, err := h.runService.Submit(c.Request.Context(), service.SubmitInput{
		RunRequest:     req,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, SubmitResponse{
		RunID:      runID,
		Status:     string(status.Status),
		ReceivedAt: status.Timestamps.ReceivedAt,
	})
}

// GetStatus returns the status of one run.
func (h *RunController) GetStatus(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		response.BadRequest(c, "Invalid run id")
		return
	}
	status, err := h.runService.GetStatus(c.Request.Context(), runID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Languages lists the supported languages and their backends.
func (h *RunController) Languages(c *gin.Context) {
	response.Success(c, h.runService.Languages())
}

// Watch streams status changes over a websocket until the run is final.
func (h *RunController) Watch(c *gin.Context) {
	runID := c.Param("id")
	ctx := c.Request.Context()
	// Reject unknown runs before upgrading so the client gets a plain HTTP error.
	if _, err := h.runService.GetStatus(ctx, runID); err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = h.runService.Watch(ctx, runID, h.watchInterval, func(status model.RunStatusResponse) error {
		return conn.WriteJSON(WatchEvent{Type: WatchEventStatus, Status: &status})
	})
	if err != nil && ctx.Err() == nil {
		e := appErr.GetError(err)
		_ = conn.WriteJSON(WatchEvent{Type: WatchEventError, Code: int(e.Code), Message: e.Error()})
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		time.Now().Add(time.Second))
}
