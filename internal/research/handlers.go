package research

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/luminahq/research-server/internal/errors"
	"github.com/luminahq/research-server/internal/logger"
	"github.com/luminahq/research-server/internal/storage/pg"
)

// maxResultBytes bounds a single result submission. Reports are text; a
// multi-megabyte payload is a broken worker, not a long report.
const maxResultBytes = 4 << 20

// Handler exposes research request operations over HTTP.
type Handler struct {
	service *Service
	logger  *logger.Logger
}

// NewHandler creates a research HTTP handler.
func NewHandler(service *Service, logger *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.WithComponent("research-handler"),
	}
}

// GetRequest handles GET /api/v1/research/:requestId. Returns the request
// status and the latest result when one exists.
func (h *Handler) GetRequest(c *gin.Context) {
	state, err := h.service.GetRequest(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		h.abortRequestError(c, err, "Failed to get research request")
		return
	}

	c.JSON(200, state)
}

// Retry handles POST /api/v1/research/:requestId/retry.
func (h *Handler) Retry(c *gin.Context) {
	request, err := h.service.Retry(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		h.abortRequestError(c, err, "Failed to retry research request")
		return
	}

	c.JSON(200, request)
}

type submitResultRequest struct {
	Content json.RawMessage `json:"content"`
}

// SubmitResult handles POST /api/v1/worker/research/:requestId/result. A
// malformed body is rejected before any state changes.
func (h *Handler) SubmitResult(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxResultBytes+1))
	if err != nil || len(body) > maxResultBytes {
		errors.AbortWithBadRequest(c, "Result payload is missing or too large", nil)
		return
	}

	// Accept either the enveloped form {"content": ...} or a bare JSON
	// document; workers have shipped both.
	content := extractContent(body)
	if content == nil {
		errors.AbortWithBadRequest(c, "Result payload must be valid JSON", nil)
		return
	}

	result, err := h.service.SubmitResult(c.Request.Context(), c.Param("requestId"), content)
	if err != nil {
		if stderrors.Is(err, ErrMalformedPayload) {
			errors.AbortWithBadRequest(c, "Result payload must be valid JSON", nil)
			return
		}
		h.abortRequestError(c, err, "Failed to submit result")
		return
	}

	c.JSON(201, result)
}

// extractContent pulls the result document out of the request body, or nil
// when the body is not valid JSON.
func extractContent(body []byte) json.RawMessage {
	if !json.Valid(body) {
		return nil
	}

	var envelope submitResultRequest
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Content) > 0 {
		return envelope.Content
	}

	return json.RawMessage(body)
}

func (h *Handler) abortRequestError(c *gin.Context, err error, message string) {
	if stderrors.Is(err, pg.ErrNotFound) {
		errors.AbortWithNotFound(c, "Research request not found", nil)
		return
	}
	h.logger.WithContext(c.Request.Context()).Error(message,
		slog.String("request_id", c.Param("requestId")),
		slog.String("error", err.Error()))
	errors.AbortWithInternal(c, message, nil)
}
