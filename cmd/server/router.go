package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/yourorg/fare-orchestrator/internal/app"
	"github.com/yourorg/fare-orchestrator/internal/apperr"
)

type batchRequest struct {
	Requests []json.RawMessage `json:"requests"`
}

type handlers struct {
	app    *app.App
	logger *zap.Logger
}

func setupRouter(a *app.App, logger *zap.Logger, serviceName string) *gin.Engine {
	h := &handlers{app: a, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName), requestLogger(logger))

	v1 := router.Group("/v1")
	v1.POST("/transactions", h.processTransaction)
	v1.POST("/transactions/batch", h.processBatch)
	v1.GET("/report", h.report)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", h.health)
	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (h *handlers) processTransaction(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	res, err := h.app.Handle(c.Request.Context(), body)
	if err != nil {
		status := apperr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("transaction failed", zap.String("trx_id", res.TransactionID), zap.Error(err))
		}
		resp := gin.H{"error": err.Error(), "errorKind": apperr.Kind(err)}
		if res.TransactionID != "" {
			resp["result"] = res
		}
		c.JSON(status, resp)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) processBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}
	limit := h.app.Config().Server.MaxBatchSize
	switch {
	case len(req.Requests) == 0:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed: requests cannot be empty"})
		return
	case len(req.Requests) > limit:
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Validation failed: batch exceeds the maximum size", "maxBatchSize": limit})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": h.app.HandleBatch(c.Request.Context(), req.Requests)})
}

func (h *handlers) report(c *gin.Context) {
	report, err := h.app.Report()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "boundServices": len(h.app.Registry().Bound())})
}
