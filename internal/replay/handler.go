package replay

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"greplay/internal/logger"
	"greplay/pkg/errors"
)

const processPath = "/processes/replay-subscriber"

type Handler struct {
	executor *Executor
	registry *Registry
	logger   logger.Logger
}

func NewHandler(executor *Executor, registry *Registry, log logger.Logger) *Handler {
	return &Handler{
		executor: executor,
		registry: registry,
		logger:   log,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	process := router.Group(processPath)
	{
		process.POST("/execution", h.Execute)
		process.GET("/jobs", h.ListJobs)
		process.GET("/jobs/:id", h.GetJob)
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

// Execute accepts {"inputs": {...}} as sent to an OGC API process, or the
// request fields at the top level.
func (h *Handler) Execute(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return
	}

	req, err := decodeSubscriptionRequest(body)
	if err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err).WithDetail("message", "request body must be a JSON object"))
		return
	}

	ack, _, err := h.executor.Execute(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func decodeSubscriptionRequest(body []byte) (*SubscriptionRequest, error) {
	var envelope struct {
		Inputs *SubscriptionRequest `json:"inputs"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if envelope.Inputs != nil {
		return envelope.Inputs, nil
	}

	var req SubscriptionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (h *Handler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.registry.List()})
}

func (h *Handler) GetJob(c *gin.Context) {
	id := c.Param("id")
	handle, ok := h.registry.Get(id)
	if !ok {
		h.HandleError(c, errors.ErrNotFound.WithDetail("message", "job not found").WithDetail("id", id))
		return
	}
	c.JSON(http.StatusOK, handle.Status())
}
