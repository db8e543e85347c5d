package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetalert/internal/engine"
	"fleetalert/internal/notify"
	"fleetalert/internal/version"
)

// reportRequest is one collector push: a connectivity flag, a temperature
// reading, or both.
type reportRequest struct {
	ChannelID    string     `json:"channel_id" binding:"required"`
	Online       *bool      `json:"online"`
	Temperature  *float64   `json:"temperature"`
	Timestamp    *time.Time `json:"timestamp"`
	MinThreshold *float64   `json:"min_threshold"`
	MaxThreshold *float64   `json:"max_threshold"`
	Operational  *bool      `json:"operational"`
}

func newRouter(eng *engine.Engine, history *notify.History) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Status())
	})

	api.POST("/process", func(c *gin.Context) {
		eng.ForceProcess()
		c.JSON(http.StatusOK, eng.Status())
	})

	api.POST("/report", func(c *gin.Context) {
		var req reportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Online == nil && req.Temperature == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "report carries neither online nor temperature"})
			return
		}

		operational := true
		if req.Operational != nil {
			operational = *req.Operational
		}
		ts := time.Now()
		if req.Timestamp != nil {
			ts = *req.Timestamp
		}

		if req.Online != nil {
			eng.OnConnectionReport(req.ChannelID, *req.Online, operational)
		}
		if req.Temperature != nil {
			eng.RecordReading(req.ChannelID, *req.Temperature,
				ts, req.MinThreshold, req.MaxThreshold, operational)
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	})

	api.GET("/history", func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		records, err := history.Recent(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, records)
	})

	return r
}
