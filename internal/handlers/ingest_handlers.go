package handlers

import (
	"log/slog"
	"net/http"

	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
	"github.com/genc-murat/ringtsdb/internal/metrics"
)

type IngestHandlers struct {
	store   ports.Store
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewIngestHandlers(store ports.Store, m *metrics.Metrics, log *slog.Logger) *IngestHandlers {
	return &IngestHandlers{store: store, metrics: m, log: log}
}

type gaugePayload struct {
	MetricID *uint64           `json:"metric_id"`
	Name     string            `json:"name"`
	TS       int64             `json:"ts"`
	Value    float64           `json:"value"`
	Tags     map[string]string `json:"tags"`
	Step     uint32            `json:"step"`
	Slots    uint32            `json:"slots"`
}

type counterPayload struct {
	MetricID *uint64           `json:"metric_id"`
	Name     string            `json:"name"`
	TS       int64             `json:"ts"`
	RawValue float64           `json:"raw_value"`
	Tags     map[string]string `json:"tags"`
	Step     uint32            `json:"step"`
	Slots    uint32            `json:"slots"`
}

// metricRef builds the tagged by-id/by-name variant from the payload.
func metricRef(id *uint64, name string, tags map[string]string) (models.MetricRef, error) {
	if id == nil && name == "" {
		return models.MetricRef{}, models.Validationf("metric_id or name is required")
	}
	if id != nil {
		return models.RefByID(*id), nil
	}
	return models.RefByName(name, tags), nil
}

func (h *IngestHandlers) HandleGauge(w http.ResponseWriter, r *http.Request) {
	var p gaugePayload
	if err := decodeBody(r, &p); err != nil {
		writeError(w, h.log, err)
		return
	}
	ref, err := metricRef(p.MetricID, p.Name, p.Tags)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	ctx := r.Context()
	m, err := h.store.Ensure(ctx, ref, models.MetricGauge, p.Step, p.Slots)
	if err == nil {
		err = h.store.WriteSample(ctx, m.ID, p.TS, p.Value)
	}
	if err != nil {
		h.metrics.IngestTotal.WithLabelValues("gauge", "error").Inc()
		writeError(w, h.log, err)
		return
	}
	h.metrics.IngestTotal.WithLabelValues("gauge", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"metric_id": m.ID,
		"timestamp": p.TS,
	})
}

func (h *IngestHandlers) HandleCounter(w http.ResponseWriter, r *http.Request) {
	var p counterPayload
	if err := decodeBody(r, &p); err != nil {
		writeError(w, h.log, err)
		return
	}
	ref, err := metricRef(p.MetricID, p.Name, p.Tags)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	ctx := r.Context()
	m, err := h.store.Ensure(ctx, ref, models.MetricCounter, p.Step, p.Slots)
	if err == nil {
		err = h.store.IngestCounter(ctx, m.ID, p.TS, p.RawValue)
	}
	if err != nil {
		h.metrics.IngestTotal.WithLabelValues("counter", "error").Inc()
		writeError(w, h.log, err)
		return
	}
	h.metrics.IngestTotal.WithLabelValues("counter", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"metric_id": m.ID,
		"timestamp": p.TS,
	})
}
