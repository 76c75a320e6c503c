package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
)

type MetricsHandlers struct {
	store  ports.Store
	engine ports.QueryEngine
	log    *slog.Logger
}

func NewMetricsHandlers(store ports.Store, engine ports.QueryEngine, log *slog.Logger) *MetricsHandlers {
	return &MetricsHandlers{store: store, engine: engine, log: log}
}

type metricView struct {
	MetricID uint64            `json:"metric_id"`
	Name     string            `json:"name"`
	Tags     map[string]string `json:"tags"`
	Step     uint32            `json:"step"`
	Slots    uint32            `json:"slots"`
	Type     uint8             `json:"type"`
}

func viewOf(m models.Metric) metricView {
	tags := m.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	return metricView{
		MetricID: m.ID,
		Name:     m.Name,
		Tags:     tags,
		Step:     m.Step,
		Slots:    m.Slots,
		Type:     uint8(m.Type),
	}
}

func (h *MetricsHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	views := make([]metricView, 0, len(metrics))
	for _, m := range metrics {
		views = append(views, viewOf(m))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"metrics": views})
}

type lookupPayload struct {
	Name  string            `json:"name"`
	Tags  map[string]string `json:"tags"`
	Limit int               `json:"limit"`
}

func (h *MetricsHandlers) HandleLookup(w http.ResponseWriter, r *http.Request) {
	var p lookupPayload
	if err := decodeBody(r, &p); err != nil {
		writeError(w, h.log, err)
		return
	}
	metrics, hitLimit, err := h.store.Lookup(r.Context(), p.Name, p.Tags, p.Limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	views := make([]metricView, 0, len(metrics))
	for _, m := range metrics {
		views = append(views, viewOf(m))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics":   views,
		"hit_limit": hitLimit,
	})
}

func (h *MetricsHandlers) HandleNames(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.Names(r.Context(), 0)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"names": names})
}

type tagLookupPayload struct {
	Name string `json:"name"`
}

func (h *MetricsHandlers) HandleTagValues(w http.ResponseWriter, r *http.Request) {
	var p tagLookupPayload
	if err := decodeBody(r, &p); err != nil {
		writeError(w, h.log, err)
		return
	}
	catalog, err := h.store.TagCatalog(r.Context(), p.Name)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tags": catalog})
}

// HandleSeries returns pre-bucketed rows for one metric: averaged buckets for
// gauges, bucket_rate over the lagged max for counters. Stale ring slots are
// filtered by ts before bucketing, never reported.
func (h *MetricsHandlers) HandleSeries(w http.ResponseWriter, r *http.Request) {
	id, err := pathMetricID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	q := r.URL.Query()
	startTS, err1 := strconv.ParseInt(q.Get("start_ts"), 10, 64)
	endTS, err2 := strconv.ParseInt(q.Get("end_ts"), 10, 64)
	if err1 != nil || err2 != nil {
		writeError(w, h.log, models.Validationf("start_ts and end_ts are required integers"))
		return
	}
	bucket := int64(1)
	if s := q.Get("bucket"); s != "" {
		b, err := strconv.ParseInt(s, 10, 64)
		if err != nil || b <= 0 {
			writeError(w, h.log, models.Validationf("bucket must be a positive integer"))
			return
		}
		bucket = b
	}
	if startTS > endTS {
		writeError(w, h.log, models.Validationf("start_ts must be <= end_ts"))
		return
	}

	m, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	rows, _, err := h.engine.Run(r.Context(), models.QueryRequest{
		MetricIDs: []uint64{id},
		StartTS:   startTS,
		EndTS:     endTS,
		SQL:       seriesSQL(m, startTS, endTS, bucket),
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rows": rows})
}

func seriesSQL(m models.Metric, startTS, endTS, bucket int64) string {
	if m.Type == models.MetricCounter {
		return fmt.Sprintf(`WITH bucketed AS (
  SELECT ts_bucket(ts, %d) AS bucket, max(value) AS value
  FROM samples
  WHERE metric_id = %d AND ts >= %d AND ts <= %d
  GROUP BY bucket
),
rates AS (
  SELECT bucket,
         bucket_rate(value, LAG(value) OVER (ORDER BY bucket), %d) AS rate
  FROM bucketed
)
SELECT bucket, rate AS value
FROM rates
ORDER BY bucket`, bucket, m.ID, startTS, endTS, bucket)
	}
	return fmt.Sprintf(`SELECT ts_bucket(ts, %d) AS bucket, avg(value) AS value
FROM samples
WHERE metric_id = %d AND ts >= %d AND ts <= %d
GROUP BY bucket
ORDER BY bucket`, bucket, m.ID, startTS, endTS)
}

type retentionPayload struct {
	Step  uint32 `json:"step"`
	Slots uint32 `json:"slots"`
}

func (h *MetricsHandlers) HandleRetention(w http.ResponseWriter, r *http.Request) {
	id, err := pathMetricID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var p retentionPayload
	if err := decodeBody(r, &p); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.store.RetentionRewrite(r.Context(), id, p.Step, p.Slots); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"metric_id": id,
		"step":      p.Step,
		"slots":     p.Slots,
	})
}

func (h *MetricsHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathMetricID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"metric_id": id,
	})
}

func pathMetricID(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, models.Validationf("invalid metric id %q", raw)
	}
	return id, nil
}
