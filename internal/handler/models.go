package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"quantlab/internal/domain"
	"quantlab/internal/ml/common"
)

const (
	defaultPredictBars = 1
	maxPredictBars     = 500
)

// ListModels returns the metadata index. ?family= and ?deployable=true
// narrow the result.
func (h *Handler) ListModels(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-models")
	defer span.End()

	models, updated, err := h.index.List(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	family := strings.ToLower(strings.TrimSpace(c.Query("family")))
	deployableOnly := strings.EqualFold(c.Query("deployable"), "true")
	filtered := make([]domain.ModelMetadata, 0, len(models))
	for _, m := range models {
		if family != "" && m.ModelFamily != family {
			continue
		}
		if deployableOnly && !m.Deployable {
			continue
		}
		filtered = append(filtered, m)
	}

	c.JSON(http.StatusOK, gin.H{
		"models":       filtered,
		"count":        len(filtered),
		"last_updated": updated,
	})
}

func (h *Handler) GetModel(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-model")
	defer span.End()

	key := c.Param("key")
	span.SetAttributes(attribute.String("model_key", key))

	meta, err := h.index.Get(ctx, key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// Predict scores the latest bars of an instrument. ?model= selects the
// family (default lgbm) and ?n= the number of bars.
func (h *Handler) Predict(c *gin.Context) {
	if h.predictor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "inference service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.predict")
	defer span.End()

	instrument := strings.ToUpper(strings.TrimSpace(c.Param("instrument")))
	family := strings.ToLower(strings.TrimSpace(c.DefaultQuery("model", common.FamilyLGBM)))
	if !common.IsFamily(family) {
		writeError(c, fmt.Errorf("%w %q", errUnknownFamily, family))
		return
	}

	n := defaultPredictBars
	if v := c.Query("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a positive integer"})
			return
		}
		n = min(parsed, maxPredictBars)
	}
	span.SetAttributes(attribute.String("instrument", instrument), attribute.String("family", family))

	preds, err := h.predictor.Predict(ctx, instrument, family, n)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"instrument":  instrument,
		"model_key":   domain.ModelKey(instrument, family),
		"predictions": preds,
	})
}

// ListPredictions returns stored predictions for an instrument, newest
// first. ?limit= caps the result.
func (h *Handler) ListPredictions(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "prediction history unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-predictions")
	defer span.End()

	instrument := strings.ToUpper(strings.TrimSpace(c.Param("instrument")))
	limit := 100
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxPredictBars)
	}

	preds, err := h.history.ListRecent(ctx, instrument, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instrument": instrument, "predictions": preds, "count": len(preds)})
}
