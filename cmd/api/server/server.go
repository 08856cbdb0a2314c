package server

import (
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/engine"
	"github.com/Tsinling0525/rivulet-gen/infra"
	"github.com/Tsinling0525/rivulet-gen/plugin"
)

const maxUpload = 32 << 20

// APIResponse represents the API response
type APIResponse struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Helper function to send JSON response
func sendResponse(c *gin.Context, statusCode int, success bool, data map[string]interface{}, errorMsg string) {
	response := APIResponse{Success: success, Data: data, Error: errorMsg}
	c.JSON(statusCode, response)
}

func sendSuccess(c *gin.Context, statusCode int, data map[string]interface{}) {
	sendResponse(c, statusCode, true, data, "")
}
func sendError(c *gin.Context, statusCode int, errorMsg string) {
	sendResponse(c, statusCode, false, nil, errorMsg)
}

type handlers struct {
	app *App
}

func handleHealth(c *gin.Context) {
	sendSuccess(c, http.StatusOK, map[string]interface{}{"status": "healthy", "timestamp": time.Now().Unix(), "version": "1.0.0"})
}

func (h *handlers) submitJob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload)
	fh, err := c.FormFile("image")
	if err != nil {
		sendError(c, http.StatusBadRequest, "image file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	var template string
	if name := c.PostForm("template"); name != "" {
		template, err = infra.TemplatePath(h.app.Config.Workflow.TemplatesDir, name)
		if err != nil {
			h.app.Logger.Warn("template rejected", zap.String("template", name), zap.String("remote", c.ClientIP()))
			sendError(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	job, err := h.app.Jobs.Submit(engine.Request{
		Image:        data,
		ImageName:    fh.Filename,
		ContentType:  fh.Header.Get("Content-Type"),
		Prompt:       c.PostForm("prompt"),
		TemplatePath: template,
	})
	if err != nil {
		sendError(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	sendSuccess(c, http.StatusAccepted, map[string]interface{}{"id": job.ID, "state": job.State})
}

func (h *handlers) listJobs(c *gin.Context) {
	sendSuccess(c, http.StatusOK, map[string]interface{}{"jobs": h.app.Jobs.List()})
}

func (h *handlers) getJob(c *gin.Context) {
	job, ok := h.app.Jobs.Get(c.Param("id"))
	if !ok {
		sendError(c, http.StatusNotFound, "job not found")
		return
	}
	sendSuccess(c, http.StatusOK, map[string]interface{}{"job": job})
}

func (h *handlers) jobResult(c *gin.Context) {
	meta, data, err := h.app.Jobs.Result(c.Request.Context(), c.Param("id"))
	switch errors.Cause(err) {
	case nil:
	case infra.ErrJobNotFound:
		sendError(c, http.StatusNotFound, err.Error())
		return
	case infra.ErrNotReady:
		sendError(c, http.StatusConflict, err.Error())
		return
	default:
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	ct := meta.MediaType
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	c.Header("Content-Disposition", `inline; filename="`+meta.Name+`"`)
	c.Data(http.StatusOK, ct, data)
}

func (h *handlers) jobLogs(c *gin.Context) {
	logs, err := h.app.Jobs.Logs(c.Param("id"))
	if err != nil {
		sendError(c, http.StatusNotFound, err.Error())
		return
	}
	sendSuccess(c, http.StatusOK, map[string]interface{}{"logs": logs})
}

func (h *handlers) cancelJob(c *gin.Context) {
	if err := h.app.Jobs.Cancel(c.Param("id")); err != nil {
		sendError(c, http.StatusNotFound, err.Error())
		return
	}
	sendSuccess(c, http.StatusOK, map[string]interface{}{"id": c.Param("id")})
}

type previewRequest struct {
	Prompt    string         `json:"prompt" binding:"required"`
	ImageB64  string         `json:"image_b64"`
	ImageType string         `json:"image_type"`
	Vars      map[string]any `json:"vars"`
}

func (h *handlers) preview(c *gin.Context) {
	if h.app.Preview == nil {
		msg := "preview provider not configured"
		if h.app.PreviewErr != nil {
			msg = h.app.PreviewErr.Error()
		}
		sendError(c, http.StatusServiceUnavailable, msg)
		return
	}
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	var img []byte
	if req.ImageB64 != "" {
		var err error
		img, err = base64.StdEncoding.DecodeString(req.ImageB64)
		if err != nil {
			sendError(c, http.StatusBadRequest, "image_b64 is not base64")
			return
		}
	}
	resp, err := h.app.Preview.Preview(c.Request.Context(), plugin.Request{
		Prompt:    req.Prompt,
		Image:     img,
		ImageType: req.ImageType,
		Vars:      req.Vars,
	})
	if err != nil {
		sendError(c, http.StatusBadGateway, err.Error())
		return
	}
	sendSuccess(c, http.StatusOK, map[string]interface{}{"preview": resp})
}

// requestLogger logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// NewRouter builds the Gin router with routes and middleware
func NewRouter(app *App) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(app.Logger))
	r.Use(gin.Recovery())
	// CORS
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	h := &handlers{app: app}
	r.GET("/health", handleHealth)
	r.POST("/jobs", h.submitJob)
	r.GET("/jobs", h.listJobs)
	r.GET("/jobs/:id", h.getJob)
	r.GET("/jobs/:id/result", h.jobResult)
	r.GET("/jobs/:id/logs", h.jobLogs)
	r.POST("/jobs/:id/cancel", h.cancelJob)
	r.POST("/preview", h.preview)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	return r
}
