package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/tagging-api/internal/model"
)

const Version = "1.0"

// Recognizer is the pipeline the handlers delegate to.
type Recognizer interface {
	Recognize(ctx context.Context, req model.ImageRequest) (*model.RecognitionResult, error)
}

// Info describes the running service on GET /.
type Info struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Backend   string            `json:"backend"`
	Model     string            `json:"model"`
	Endpoints map[string]string `json:"endpoints"`
}

type Handler struct {
	recognizer Recognizer
	backend    string
	modelName  string
	log        *zap.Logger
}

func NewHandler(recognizer Recognizer, backend, modelName string, log *zap.Logger) *Handler {
	return &Handler{
		recognizer: recognizer,
		backend:    backend,
		modelName:  modelName,
		log:        log,
	}
}

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, Info{
		Name:    "Image Tagging API",
		Version: Version,
		Backend: h.backend,
		Model:   h.modelName,
		Endpoints: map[string]string{
			"GET /":           "service information",
			"GET /health":     "health check",
			"GET /metrics":    "prometheus metrics",
			"POST /tags":      "top-5 tags for {\"image_url\"}",
			"POST /recognize": "top-5 labels with scores for {\"image_url\", \"token\"}",
		},
	})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Tags handles POST /tags.
func (h *Handler) Tags(c *gin.Context) {
	var req model.TagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, model.CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.recognize(c, model.ImageRequest{ImageURL: req.ImageURL})
	if err != nil {
		HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.TagsResponse{Tags: model.Labels(result.Results)})
}

// Recognize handles POST /recognize.
func (h *Handler) Recognize(c *gin.Context) {
	var req model.RecognizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, model.CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.recognize(c, model.ImageRequest{ImageURL: req.ImageURL, Token: req.Token})
	if err != nil {
		HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) recognize(c *gin.Context, req model.ImageRequest) (*model.RecognitionResult, error) {
	result, err := h.recognizer.Recognize(c.Request.Context(), req)
	if err != nil {
		resp := MapError(err)
		fields := []zap.Field{
			zap.String("request_id", c.GetString("request_id")),
			zap.String("image_url", req.ImageURL),
			zap.String("code", resp.Code),
			zap.Error(err),
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			h.log.Error("Recognition failed", fields...)
		} else {
			h.log.Info("Recognition rejected", fields...)
		}
		return nil, err
	}

	h.log.Debug("Recognition completed",
		zap.String("request_id", c.GetString("request_id")),
		zap.Int("results", len(result.Results)),
	)
	return result, nil
}
