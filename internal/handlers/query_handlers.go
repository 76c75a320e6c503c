package handlers

import (
	"log/slog"
	"net/http"

	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
	"github.com/genc-murat/ringtsdb/internal/metrics"
)

type QueryHandlers struct {
	engine  ports.QueryEngine
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewQueryHandlers(engine ports.QueryEngine, m *metrics.Metrics, log *slog.Logger) *QueryHandlers {
	return &QueryHandlers{engine: engine, metrics: m, log: log}
}

type selectorPayload struct {
	Metric string            `json:"metric"`
	Tags   map[string]string `json:"tags"`
	Alias  string            `json:"alias"`
}

type queryPayload struct {
	MetricIDs []uint64          `json:"metric_ids"`
	Selectors []selectorPayload `json:"selectors"`
	StartTS   int64             `json:"start_ts"`
	EndTS     int64             `json:"end_ts"`
	SQL       string            `json:"sql"`
}

func (h *QueryHandlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var p queryPayload
	if err := decodeBody(r, &p); err != nil {
		writeError(w, h.log, err)
		return
	}

	req := models.QueryRequest{
		MetricIDs: p.MetricIDs,
		StartTS:   p.StartTS,
		EndTS:     p.EndTS,
		SQL:       p.SQL,
	}
	for _, sel := range p.Selectors {
		req.Selectors = append(req.Selectors, models.Selector{
			Metric: sel.Metric,
			Tags:   sel.Tags,
			Alias:  sel.Alias,
		})
	}

	rows, sqlText, err := h.engine.Run(r.Context(), req)
	if err != nil {
		h.metrics.QueryTotal.WithLabelValues("error").Inc()
		writeError(w, h.log, err)
		return
	}
	h.metrics.QueryTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rows":  rows,
		"count": len(rows),
		"sql":   sqlText,
	})
}
