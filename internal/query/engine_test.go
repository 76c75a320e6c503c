package query

import (
	"context"
	"log/slog"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genc-murat/ringtsdb/internal/config"
	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/storage"
	"github.com/genc-murat/ringtsdb/internal/tsdb"
)

func newTestEngine(t *testing.T) (*Engine, *tsdb.Store) {
	t.Helper()
	cfg := config.Default()
	store := tsdb.NewStore(storage.NewMemory(), cfg.Limits, cfg.Pool, slog.Default())
	return NewEngine(store, cfg.Limits, slog.Default()), store
}

func TestRunBucketedAverages(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	m, err := store.Ensure(ctx, models.RefByName("cpu", nil), models.MetricGauge, 1, 3600)
	require.NoError(t, err)
	for ts := int64(0); ts < 120; ts += 30 {
		require.NoError(t, store.WriteSample(ctx, m.ID, ts, float64(ts)))
	}

	rows, _, err := engine.Run(ctx, models.QueryRequest{
		MetricIDs: []uint64{m.ID},
		StartTS:   0,
		EndTS:     120,
		SQL: `SELECT ts_bucket(ts, 60) AS t, avg(value) AS v
FROM samples WHERE metric_id = ` + itoa(m.ID) + ` GROUP BY t ORDER BY t`,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(0), rows[0]["t"])
	assert.Equal(t, float64(15), rows[0]["v"])
	assert.Equal(t, int64(60), rows[1]["t"])
	assert.Equal(t, float64(75), rows[1]["v"])
}

// Counter rate end to end: raw cumulative samples bucketed with max, rated
// with bucket_rate over LAG, reset clamped to zero.
func TestRunCounterRate(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	m, err := store.Ensure(ctx, models.RefByName("net_bytes", nil), models.MetricCounter, 60, 10)
	require.NoError(t, err)
	for _, in := range []struct {
		ts  int64
		raw float64
	}{{0, 100}, {60, 160}, {120, 180}, {180, 50}} {
		require.NoError(t, store.IngestCounter(ctx, m.ID, in.ts, in.raw))
	}

	sql := `WITH bucketed AS (
  SELECT ts_bucket(ts, 60) AS bucket, max(value) AS value
  FROM samples
  WHERE metric_id = ` + itoa(m.ID) + ` AND ts >= 0 AND ts <= 180
  GROUP BY bucket
)
SELECT bucket, bucket_rate(value, LAG(value) OVER (ORDER BY bucket), 60) AS rate
FROM bucketed ORDER BY bucket`

	rows, _, err := engine.Run(ctx, models.QueryRequest{
		MetricIDs: []uint64{m.ID},
		StartTS:   0,
		EndTS:     180,
		SQL:       sql,
	})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Nil(t, rows[0]["rate"])
	assert.Equal(t, float64(1), rows[1]["rate"])
	assert.InDelta(t, 1.0/3, rows[2]["rate"].(float64), 1e-9)
	assert.Equal(t, float64(0), rows[3]["rate"], "reset clamps to zero")
}

func TestRunCounterRateWindowAggregate(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	m, err := store.Ensure(ctx, models.RefByName("reqs", nil), models.MetricCounter, 60, 10)
	require.NoError(t, err)
	for _, in := range []struct {
		ts  int64
		raw float64
	}{{0, 0}, {60, 120}, {120, 180}} {
		require.NoError(t, store.IngestCounter(ctx, m.ID, in.ts, in.raw))
	}

	rows, _, err := engine.Run(ctx, models.QueryRequest{
		MetricIDs: []uint64{m.ID},
		StartTS:   0,
		EndTS:     120,
		SQL: `SELECT ts, counter_rate(value, ts) OVER (PARTITION BY metric_id ORDER BY ts) AS rate
FROM samples WHERE metric_id = ` + itoa(m.ID) + ` ORDER BY ts`,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Nil(t, rows[0]["rate"])
	assert.Equal(t, float64(2), rows[1]["rate"])
	assert.Equal(t, float64(1), rows[2]["rate"])
}

func TestRunSelectorsAndAliases(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	m, err := store.Ensure(ctx, models.RefByName("cpu", map[string]string{"host": "web-1"}), models.MetricGauge, 1, 100)
	require.NoError(t, err)
	require.NoError(t, store.WriteSample(ctx, m.ID, 10, 0.5))

	rows, sqlText, err := engine.Run(ctx, models.QueryRequest{
		Selectors: []models.Selector{{Metric: "cpu", Tags: map[string]string{"host": "web-1"}, Alias: "CPU"}},
		StartTS:   0,
		EndTS:     100,
		SQL:       "SELECT ts, value FROM samples WHERE metric_id = {{CPU}}",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(0.5), rows[0]["value"])
	assert.NotContains(t, sqlText, "{{")
}

func TestRunMetricsJoin(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	m, err := store.Ensure(ctx, models.RefByName("cpu", map[string]string{"host": "web-1"}), models.MetricGauge, 1, 100)
	require.NoError(t, err)
	require.NoError(t, store.WriteSample(ctx, m.ID, 5, 1))

	rows, _, err := engine.Run(ctx, models.QueryRequest{
		MetricIDs: []uint64{m.ID},
		StartTS:   0,
		EndTS:     100,
		SQL: `SELECT s.ts, m.name, t.tag_value AS host
FROM samples s
JOIN metrics m ON m.metric_id = s.metric_id
JOIN metric_tags t ON t.metric_id = s.metric_id AND t.tag_key = 'host'
WHERE s.metric_id = ` + itoa(m.ID),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "cpu", rows[0]["name"])
	assert.Equal(t, "web-1", rows[0]["host"])
}

func TestRunRejections(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	m, err := store.Ensure(ctx, models.RefByName("cpu", nil), models.MetricGauge, 1, 100)
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      models.QueryRequest
		wantCode string
	}{
		{
			name:     "no metric ids or selectors",
			req:      models.QueryRequest{StartTS: 0, EndTS: 1, SQL: "SELECT * FROM samples"},
			wantCode: "VALIDATION",
		},
		{
			name:     "unbounded samples scan",
			req:      models.QueryRequest{MetricIDs: []uint64{m.ID}, StartTS: 0, EndTS: 1, SQL: "SELECT * FROM samples"},
			wantCode: "VALIDATION",
		},
		{
			name:     "unknown table",
			req:      models.QueryRequest{MetricIDs: []uint64{m.ID}, StartTS: 0, EndTS: 1, SQL: "SELECT * FROM sqlite_master"},
			wantCode: "VALIDATION",
		},
		{
			name:     "unknown function",
			req:      models.QueryRequest{MetricIDs: []uint64{m.ID}, StartTS: 0, EndTS: 1, SQL: "SELECT random()"},
			wantCode: "VALIDATION",
		},
		{
			name:     "inverted range",
			req:      models.QueryRequest{MetricIDs: []uint64{m.ID}, StartTS: 10, EndTS: 0, SQL: "SELECT 1"},
			wantCode: "VALIDATION",
		},
		{
			name: "unknown selector",
			req: models.QueryRequest{
				Selectors: []models.Selector{{Metric: "no_such_metric"}},
				StartTS:   0, EndTS: 1, SQL: "SELECT 1",
			},
			wantCode: "NOT_FOUND",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := engine.Run(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, models.ErrorCode(err))
		})
	}
}

func itoa(id uint64) string {
	return strconv.FormatUint(id, 10)
}
