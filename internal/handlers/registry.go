package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/genc-murat/ringtsdb/internal/core/ports"
	"github.com/genc-murat/ringtsdb/internal/metrics"
)

// Registry wires the handler structs onto their routes.
type Registry struct {
	ingest     *IngestHandlers
	query      *QueryHandlers
	metricsAPI *MetricsHandlers
	dashboards *DashboardHandlers
	telemetry  *metrics.Metrics
	log        *slog.Logger
}

func NewRegistry(store ports.Store, engine ports.QueryEngine, telemetry *metrics.Metrics, log *slog.Logger) *Registry {
	return &Registry{
		ingest:     NewIngestHandlers(store, telemetry, log),
		query:      NewQueryHandlers(engine, telemetry, log),
		metricsAPI: NewMetricsHandlers(store, engine, log),
		dashboards: NewDashboardHandlers(store, log),
		telemetry:  telemetry,
		log:        log,
	}
}

func (r *Registry) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(instrument(r.telemetry, r.log))

	router.HandleFunc("/ingest/gauge", r.ingest.HandleGauge).Methods(http.MethodPost)
	router.HandleFunc("/ingest/counter", r.ingest.HandleCounter).Methods(http.MethodPost)

	router.HandleFunc("/query", r.query.HandleQuery).Methods(http.MethodPost)

	router.HandleFunc("/metrics", r.metricsAPI.HandleList).Methods(http.MethodGet)
	router.HandleFunc("/metrics/lookup", r.metricsAPI.HandleLookup).Methods(http.MethodPost)
	router.HandleFunc("/metrics/names", r.metricsAPI.HandleNames).Methods(http.MethodGet)
	router.HandleFunc("/metrics/tag-values", r.metricsAPI.HandleTagValues).Methods(http.MethodPost)
	router.HandleFunc("/metrics/{id:[0-9]+}/series", r.metricsAPI.HandleSeries).Methods(http.MethodGet)
	router.HandleFunc("/metrics/{id:[0-9]+}/retention", r.metricsAPI.HandleRetention).Methods(http.MethodPost)
	router.HandleFunc("/metrics/{id:[0-9]+}", r.metricsAPI.HandleDelete).Methods(http.MethodDelete)

	router.HandleFunc("/dashboards", r.dashboards.HandleList).Methods(http.MethodGet)
	router.HandleFunc("/dashboards", r.dashboards.HandleSave).Methods(http.MethodPost)
	router.HandleFunc("/dashboards/{slug}", r.dashboards.HandleGet).Methods(http.MethodGet)
	router.HandleFunc("/dashboards/{slug}", r.dashboards.HandleDelete).Methods(http.MethodDelete)

	router.Handle("/debug/metrics", r.telemetry.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return router
}
