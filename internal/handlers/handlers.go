// Package handlers implements the query/control HTTP API and the
// config-topic listener.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"healthmon/internal/baseline"
	"healthmon/internal/detector"
	"healthmon/internal/metrics"
	"healthmon/internal/models"
	"healthmon/internal/store"
	"healthmon/internal/trends"
	"healthmon/pkg/llm"
	"healthmon/pkg/logging"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	llmTimeout          = 30 * time.Second
)

// ErrorResponse is the uniform error envelope
type ErrorResponse struct {
	Error string `json:"error"`
}

// OKResponse acknowledges a state change
type OKResponse struct {
	OK bool `json:"ok"`
}

// LLMClient is the completion surface the trend analysis proxy needs
type LLMClient interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Publisher publishes control messages back to the broker
type Publisher interface {
	Publish(topic string, v interface{}) error
}

// Handlers carries the dependencies of the HTTP API
type Handlers struct {
	store       *store.Store
	trends      *trends.Aggregator
	detector    *detector.Manager
	registry    *baseline.Registry
	pub         Publisher
	llm         LLMClient
	configTopic string
	logger      logging.Logger
	metrics     *metrics.Metrics
}

// New creates the handler set
func New(st *store.Store, tr *trends.Aggregator, dm *detector.Manager, reg *baseline.Registry, pub Publisher, llmClient LLMClient, configTopic string, logger logging.Logger, m *metrics.Metrics) *Handlers {
	return &Handlers{
		store:       st,
		trends:      tr,
		detector:    dm,
		registry:    reg,
		pub:         pub,
		llm:         llmClient,
		configTopic: configTopic,
		logger:      logger,
		metrics:     m,
	}
}

// Register mounts every endpoint under /api
func (h *Handlers) Register(router gin.IRouter) {
	api := router.Group("/api")
	api.GET("/detector/current", h.GetCurrentDetector)
	api.POST("/detector/set", h.SetDetector)
	api.GET("/user/baselines", h.GetUserBaselines)
	api.POST("/user/reset_baselines", h.ResetUserBaselines)
	api.GET("/trends", h.GetTrends)
	api.GET("/alerts/history", h.GetAlertHistory)
	api.POST("/trends/llm_analysis", h.LLMTrendAnalysis)
}

// GetCurrentDetector returns the active detector configuration
func (h *Handlers) GetCurrentDetector(c *gin.Context) {
	c.JSON(http.StatusOK, h.detector.Current())
}

// SetDetector switches the active detection strategy and echoes the
// new configuration on the config topic
func (h *Handlers) SetDetector(c *gin.Context) {
	var req models.DetectorConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.UserID == "" {
		req.UserID = h.detector.Current().UserID
	}

	cfg, err := h.detector.Switch(req.DetectorType, req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if h.pub != nil {
		if err := h.pub.Publish(h.configTopic, cfg); err != nil {
			h.logger.WithError(err).Error("Failed to publish detector config")
		}
	}

	c.JSON(http.StatusOK, OKResponse{OK: true})
}

// HandleConfigMessage applies a detector switch arriving over the
// broker. Broker-initiated switches are not re-echoed, so an echoed
// API switch cannot loop.
func (h *Handlers) HandleConfigMessage(topic string, payload []byte) {
	var cfg models.DetectorConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		h.logger.WithError(err).WithField("topic", topic).Warn("Dropping malformed config message")
		return
	}
	if cfg.UserID == "" {
		cfg.UserID = h.detector.Current().UserID
	}

	applied, err := h.detector.Switch(cfg.DetectorType, cfg.UserID)
	if err != nil {
		h.logger.WithError(err).Warn("Ignoring invalid config message")
		return
	}
	h.logger.WithFields(logging.Fields{
		"detector_type": applied.DetectorType,
		"user_id":       applied.UserID,
	}).Info("Detector configuration applied from broker")
}

// baselinesResponse is the inspection view of one user's baselines
type baselinesResponse struct {
	UserID         string                         `json:"user_id"`
	ActivityLevels map[string]baseline.LevelStats `json:"activity_levels"`
}

// GetUserBaselines returns the learned statistics for a user
func (h *Handlers) GetUserBaselines(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		userID = h.detector.Current().UserID
	}

	c.JSON(http.StatusOK, baselinesResponse{
		UserID:         userID,
		ActivityLevels: h.registry.Stats(userID),
	})
}

type resetRequest struct {
	UserID string `json:"user_id"`
}

// ResetUserBaselines drops every learned cell for a user
func (h *Handlers) ResetUserBaselines(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "user_id must not be empty"})
		return
	}

	h.registry.Reset(req.UserID)
	c.JSON(http.StatusOK, OKResponse{OK: true})
}

// GetTrends returns every (scale, parameter) downsampled series
func (h *Handlers) GetTrends(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trends": h.trends.Analyze(c.Request.Context())})
}

// GetAlertHistory returns a user's alerts, newest first
func (h *Handlers) GetAlertHistory(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		userID = h.detector.Current().UserID
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid limit"})
			return
		}
		limit = parsed
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	alerts, err := h.store.QueryAlertHistory(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to fetch alert history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch alert history"})
		return
	}

	c.JSON(http.StatusOK, alerts)
}

// trendAnalysisRequest is a trend window handed to the language model
type trendAnalysisRequest struct {
	Parameter  string    `json:"parameter"`
	TimeScale  string    `json:"time_scale"`
	Unit       string    `json:"unit"`
	Timestamps []string  `json:"timestamps"`
	Values     []float64 `json:"values"`
}

// trendPromptTemplate is the fixed analysis prompt. Series data is
// embedded as JSON so user-supplied strings cannot rewrite the
// instructions.
const trendPromptTemplate = `Analyze the following health trend series.

Parameter: %s
Unit: %s
Time scale: %s
Timestamps: %s
Values: %s

Describe the overall trend, point out any segments that deviate from the rest
of the series, and suggest practical follow-ups if the pattern warrants them.
Answer in markdown.`

// LLMTrendAnalysis forwards a trend window to the configured
// chat-completions service and passes the answer through as markdown
func (h *Handlers) LLMTrendAnalysis(c *gin.Context) {
	var req trendAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.Parameter == "" || req.TimeScale == "" || req.Unit == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "parameter, time_scale and unit are required"})
		return
	}
	if len(req.Timestamps) == 0 || len(req.Values) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "timestamps and values must not be empty"})
		return
	}

	timestamps, _ := json.Marshal(req.Timestamps)
	values, _ := json.Marshal(req.Values)
	prompt := fmt.Sprintf(trendPromptTemplate, req.Parameter, req.Unit, req.TimeScale, timestamps, values)

	ctx, cancel := context.WithTimeout(c.Request.Context(), llmTimeout)
	defer cancel()

	markdown, err := h.llm.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You are a professional health data analyst."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		h.countLLM("error")
		h.logger.WithError(err).Error("LLM trend analysis failed")
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: fmt.Sprintf("LLM API error: %v", err)})
		return
	}

	h.countLLM("ok")
	c.JSON(http.StatusOK, gin.H{"markdown": markdown})
}

func (h *Handlers) countLLM(status string) {
	if h.metrics != nil {
		h.metrics.LLMRequests.WithLabelValues(status).Inc()
	}
}
