package ports

import (
	"context"

	"github.com/genc-murat/ringtsdb/internal/core/models"
)

// Store is the ring storage engine surface the handlers and the query layer
// build on.
type Store interface {
	// Ensure resolves ref to a descriptor, creating it on first ingest.
	// step/slots of 0 take the configured defaults.
	Ensure(ctx context.Context, ref models.MetricRef, typ models.MetricType, step, slots uint32) (models.Metric, error)

	Get(ctx context.Context, metricID uint64) (models.Metric, error)
	List(ctx context.Context) ([]models.Metric, error)
	// Lookup filters by name and exact tag subset; hitLimit reports a capped
	// result the caller should narrow.
	Lookup(ctx context.Context, name string, tags map[string]string, limit int) (metrics []models.Metric, hitLimit bool, err error)
	Names(ctx context.Context, limit int) ([]string, error)
	TagCatalog(ctx context.Context, name string) (map[string][]string, error)

	WriteSample(ctx context.Context, metricID uint64, ts int64, value float64) error
	IngestCounter(ctx context.Context, metricID uint64, ts int64, rawValue float64) error
	ReadRange(ctx context.Context, metricID uint64, startTS, endTS int64) ([]models.Sample, error)

	Delete(ctx context.Context, metricID uint64) error
	RetentionRewrite(ctx context.Context, metricID uint64, step, slots uint32) error

	SaveDashboard(ctx context.Context, slug string, blob []byte) error
	GetDashboard(ctx context.Context, slug string) ([]byte, error)
	ListDashboards(ctx context.Context) ([]models.DashboardInfo, error)
	DeleteDashboard(ctx context.Context, slug string) error
}

// QueryEngine executes SQL over the virtual tables fed by a Store.
type QueryEngine interface {
	// Run returns result rows in plan order together with the SQL that was
	// executed after alias substitution.
	Run(ctx context.Context, req models.QueryRequest) (rows []map[string]interface{}, sql string, err error)
}
