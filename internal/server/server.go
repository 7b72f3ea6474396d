package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/AmulyaVeldandi/AuDRA/internal/core"
	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
	"github.com/AmulyaVeldandi/AuDRA/internal/driver"
)

const (
	maxBatchSize = 10
)

type Server struct {
	Pipeline *core.Pipeline
	Logger   zerolog.Logger
}

func NewServer(pipeline *core.Pipeline, logger zerolog.Logger) *Server {
	return &Server{Pipeline: pipeline, Logger: logger}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.Health)
	r.POST("/reports", s.ProcessReport)
	r.POST("/reports/batch", s.ProcessBatch)
	r.GET("/sessions/:id", s.GetSession)

	return r
}

// errorEnvelope is the uniform error body for every non-2xx response.
type errorEnvelope struct {
	ErrorCode string    `json:"error_code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorEnvelope{
		ErrorCode: code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

type ReportRequest struct {
	ReportText string `json:"report_text" binding:"required"`
	PatientID  string `json:"patient_id"`
	ReportID   string `json:"report_id"`
}

func (r ReportRequest) toModel() model.Report {
	return model.Report{
		ReportID:  r.ReportID,
		PatientID: r.PatientID,
		Text:      r.ReportText,
	}
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ProcessReport(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "request body must be JSON with a non-empty report_text field")
		return
	}

	result, err := s.Pipeline.ProcessReport(c.Request.Context(), req.toModel())
	if err != nil {
		if errors.Is(err, core.ErrReportTooShort) {
			respondError(c, http.StatusBadRequest, "report_too_short", err.Error())
			return
		}
		s.Logger.Error().Err(err).Msg("failed to process report")
		respondError(c, http.StatusInternalServerError, "internal_error", "failed to process report")
		return
	}

	c.JSON(http.StatusOK, result)
}

type BatchRequest struct {
	Reports []ReportRequest `json:"reports" binding:"required"`
}

// batchItem pairs a per-report result with a per-report error so one bad
// report never fails the batch.
type batchItem struct {
	Result *model.SessionResult `json:"result,omitempty"`
	Error  *errorEnvelope       `json:"error,omitempty"`
}

func (s *Server) ProcessBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "request body must be JSON with a reports array")
		return
	}
	if len(req.Reports) == 0 || len(req.Reports) > maxBatchSize {
		respondError(c, http.StatusBadRequest, "invalid_batch_size",
			"batch must contain between 1 and 10 reports")
		return
	}

	items := make([]batchItem, len(req.Reports))
	for i, r := range req.Reports {
		result, err := s.Pipeline.ProcessReport(c.Request.Context(), r.toModel())
		if err != nil {
			code := "internal_error"
			if errors.Is(err, core.ErrReportTooShort) {
				code = "report_too_short"
			}
			items[i] = batchItem{Error: &errorEnvelope{
				ErrorCode: code,
				Message:   err.Error(),
				Timestamp: time.Now().UTC(),
			}}
			continue
		}
		items[i] = batchItem{Result: result}
	}

	c.JSON(http.StatusOK, gin.H{"results": items})
}

func (s *Server) GetSession(c *gin.Context) {
	sessionID := c.Param("id")

	result, trail, err := s.Pipeline.Session(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, driver.ErrSessionNotFound) {
			respondError(c, http.StatusNotFound, "session_not_found", "no session with id "+sessionID)
			return
		}
		s.Logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to load session")
		respondError(c, http.StatusInternalServerError, "internal_error", "failed to load session")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result":      result,
		"audit_trail": trail,
	})
}
