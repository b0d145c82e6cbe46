package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quantlab/internal/domain"
	"quantlab/internal/ml/training"
)

type outcomeView struct {
	Instrument   string                `json:"instrument"`
	Status       training.Status       `json:"status"`
	Reason       string                `json:"reason,omitempty"`
	Metadata     *domain.ModelMetadata `json:"metadata,omitempty"`
	Version      int                   `json:"version,omitempty"`
	Promoted     bool                  `json:"promoted,omitempty"`
	DurationSecs float64               `json:"duration_secs"`
}

// TriggerMLTraining runs one batch over the configured universe and returns
// the tally. Fold metrics are left out because profit factors may be
// infinite.
func (h *Handler) TriggerMLTraining(c *gin.Context) {
	if h.mlTrainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ml training service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-ml-training")
	defer span.End()

	summary, err := h.mlTrainer.RunTraining(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	outcomes := make([]outcomeView, 0, len(summary.Outcomes))
	for _, o := range summary.Outcomes {
		outcomes = append(outcomes, outcomeView{
			Instrument:   o.Instrument,
			Status:       o.Status,
			Reason:       o.Reason,
			Metadata:     o.Metadata,
			Version:      o.Version,
			Promoted:     o.Promoted,
			DurationSecs: o.Duration.Seconds(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"run_id":   summary.RunID,
		"family":   summary.Family,
		"success":  summary.Success,
		"skipped":  summary.Skipped,
		"errors":   summary.Errors,
		"averages": summary.Averages,
		"results":  outcomes,
	})
}
