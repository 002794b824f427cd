// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the advisor pipeline over HTTP.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/CampaignAdvisor/pkg/logging"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/pipeline"
)

// ServiceVersion is the advisor service version.
const ServiceVersion = "0.1.0"

// ErrorResponse is the JSON error body every failing endpoint returns.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// RunID ties the failure back to pipeline logs when a run started.
	RunID string `json:"run_id,omitempty"`
}

// RecommendRequest is the optional body of the recommend endpoint. An
// absent body runs the default trailing analysis window.
type RecommendRequest struct {
	// WindowStart and WindowEnd bound the analysis window, RFC 3339.
	// Both or neither must be set.
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// Handlers contains the HTTP handlers for the advisor service.
type Handlers struct {
	pipeline *pipeline.Pipeline
	engine   string
	log      *logging.Logger
}

// NewHandlers creates handlers over a built pipeline. engineName is
// reported by the health endpoint.
func NewHandlers(p *pipeline.Pipeline, engineName string, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.Default()
	}
	return &Handlers{pipeline: p, engine: engineName, log: log}
}

// RegisterRoutes registers the advisor endpoints.
//
// Endpoints:
//
//	POST /v1/campaigns/:id/recommendation - Run the pipeline for a campaign
//	GET  /healthz                         - Liveness and build info
func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	r.POST("/v1/campaigns/:id/recommendation", h.HandleRecommend)
	r.GET("/healthz", h.HandleHealth)
}

// HandleRecommend handles POST /v1/campaigns/:id/recommendation.
//
// Description:
//
//	Runs the full recommendation pipeline synchronously and returns the
//	terminal artifact. Callers wanting async semantics own their own
//	queueing; the pipeline itself is bounded, so the request always
//	terminates.
//
// Response:
//
//	200 OK: datatypes.Recommendation
//	400 Bad Request: Bad campaign ID or window
//	422 Unprocessable Entity: insufficient-context
//	502 Bad Gateway: reasoning-engine-unavailable
//	500 Internal Server Error: Other pipeline failure
func (h *Handlers) HandleRecommend(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.log.With("request_id", requestID, "handler", "HandleRecommend")

	campaign := datatypes.CampaignID(c.Param("id"))
	if campaign == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "campaign id must not be empty",
			Code:  "INVALID_CAMPAIGN",
		})
		return
	}

	var req RecommendRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warn("invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}
	window := datatypes.Window{Start: req.WindowStart, End: req.WindowEnd}
	if window.Start.IsZero() != window.End.IsZero() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "window_start and window_end must be set together",
			Code:  "INVALID_WINDOW",
		})
		return
	}
	if !window.Start.IsZero() && !window.End.After(window.Start) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "window_end must be after window_start",
			Code:  "INVALID_WINDOW",
		})
		return
	}

	logger.Info("recommendation requested", "campaign", string(campaign))

	rec, err := h.pipeline.Run(c.Request.Context(), campaign, window)
	if err != nil {
		var failure *datatypes.PipelineFailure
		if !errors.As(err, &failure) {
			logger.Error("pipeline returned an untyped error", "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: "internal error",
				Code:  "INTERNAL",
			})
			return
		}

		statusCode := http.StatusInternalServerError
		switch failure.Reason {
		case datatypes.ReasonInsufficientContext:
			statusCode = http.StatusUnprocessableEntity
		case datatypes.ReasonEngineUnavailable:
			statusCode = http.StatusBadGateway
		}

		logger.Error("pipeline run failed",
			"campaign", string(campaign),
			"reason", string(failure.Reason),
			"run_id", failure.RunID,
		)
		c.JSON(statusCode, ErrorResponse{
			Error: failure.Message,
			Code:  string(failure.Reason),
			RunID: failure.RunID,
		})
		return
	}

	logger.Info("recommendation produced",
		"campaign", string(campaign),
		"run_id", rec.RunID,
		"workflow", string(rec.Draft.Workflow),
		"iterations", rec.Iterations,
	)
	c.JSON(http.StatusOK, rec)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "advisor",
		"version": ServiceVersion,
		"engine":  h.engine,
	})
}

// getOrCreateRequestID propagates X-Request-ID, minting one if absent.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
