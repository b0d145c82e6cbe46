package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health reports liveness plus the state of the model index. An unreadable
// index degrades the service and answers 503 so load balancers drain it.
func (h *Handler) Health(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.Health")
	defer span.End()

	body := gin.H{
		"status":             "healthy",
		"training_enabled":   h.mlTrainer != nil,
		"prediction_history": h.history != nil,
	}
	records, updated, err := h.index.List(ctx)
	if err != nil {
		span.RecordError(err)
		body["status"] = "degraded"
		body["index_error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	deployable := 0
	for _, m := range records {
		if m.Deployable {
			deployable++
		}
	}
	body["models"] = len(records)
	body["deployable_models"] = deployable
	if !updated.IsZero() {
		body["index_updated_at"] = updated.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, body)
}
