package tsdb

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genc-murat/ringtsdb/internal/core/models"
)

func TestEnsureCreatesAndReuses(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	tags := map[string]string{"host": "web-1"}
	first, err := s.Ensure(ctx, models.RefByName("cpu", tags), models.MetricGauge, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, "cpu", first.Name)

	again, err := s.Ensure(ctx, models.RefByName("cpu", tags), models.MetricGauge, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	// Same name, different tag set is a different metric.
	other, err := s.Ensure(ctx, models.RefByName("cpu", map[string]string{"host": "web-2"}), models.MetricGauge, 1, 10)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

// Concurrent ensures of the same (name, tags) collapse to one descriptor.
func TestEnsureConcurrentUniqueness(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	const n = 16
	ids := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := s.Ensure(ctx, models.RefByName("x", map[string]string{"h": "a"}), models.MetricGauge, 1, 10)
			require.NoError(t, err)
			ids[i] = m.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	metrics, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, metrics, 1)
}

func TestEnsureValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	tests := []struct {
		name     string
		ref      models.MetricRef
		typ      models.MetricType
		step     uint32
		slots    uint32
		wantCode string
	}{
		{name: "empty name", ref: models.RefByName("", nil), typ: models.MetricGauge, step: 1, slots: 1, wantCode: "VALIDATION"},
		{name: "window too large", ref: models.RefByName("big", nil), typ: models.MetricGauge, step: 3600, slots: 1 << 20, wantCode: "VALIDATION"},
		{name: "bad type", ref: models.RefByName("t", nil), typ: models.MetricType(9), step: 1, slots: 1, wantCode: "VALIDATION"},
		{name: "empty tag key", ref: models.RefByName("t", map[string]string{"": "v"}), typ: models.MetricGauge, step: 1, slots: 1, wantCode: "VALIDATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Ensure(ctx, tt.ref, tt.typ, tt.step, tt.slots)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, models.ErrorCode(err))
		})
	}
}

func TestEnsureTypeAndGeometryConflicts(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	m := mustEnsure(t, s, "reqs", models.MetricGauge, 60, 100)

	_, err := s.Ensure(ctx, models.RefByName("reqs", nil), models.MetricCounter, 0, 0)
	require.Error(t, err)
	assert.Equal(t, "TYPE_MISMATCH", models.ErrorCode(err))

	_, err = s.Ensure(ctx, models.RefByName("reqs", nil), models.MetricGauge, 30, 0)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", models.ErrorCode(err))

	// Omitted geometry never conflicts.
	again, err := s.Ensure(ctx, models.RefByName("reqs", nil), models.MetricGauge, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
}

func TestEnsureByExplicitID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	m, err := s.Ensure(ctx, models.RefByID(3001), models.MetricGauge, 5, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(3001), m.ID)
	assert.Empty(t, m.Name)

	got, err := s.Get(ctx, 3001)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.Step)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	webTags := map[string]string{"host": "web-1", "dc": "fra"}
	dbTags := map[string]string{"host": "db-1", "dc": "fra"}
	web, err := s.Ensure(ctx, models.RefByName("cpu", webTags), models.MetricGauge, 1, 10)
	require.NoError(t, err)
	db, err := s.Ensure(ctx, models.RefByName("cpu", dbTags), models.MetricGauge, 1, 10)
	require.NoError(t, err)
	mustEnsure(t, s, "mem", models.MetricGauge, 1, 10)

	t.Run("by name", func(t *testing.T) {
		got, hit, err := s.Lookup(ctx, "cpu", nil, 0)
		require.NoError(t, err)
		assert.False(t, hit)
		require.Len(t, got, 2)
		assert.Equal(t, web.ID, got[0].ID)
		assert.Equal(t, db.ID, got[1].ID)
	})
	t.Run("by name and tag", func(t *testing.T) {
		got, _, err := s.Lookup(ctx, "cpu", map[string]string{"host": "web-1"}, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, web.ID, got[0].ID)
	})
	t.Run("tag intersection", func(t *testing.T) {
		got, _, err := s.Lookup(ctx, "cpu", map[string]string{"dc": "fra", "host": "db-1"}, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, db.ID, got[0].ID)
	})
	t.Run("no match", func(t *testing.T) {
		got, _, err := s.Lookup(ctx, "cpu", map[string]string{"host": "gone"}, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
	t.Run("hit limit", func(t *testing.T) {
		got, hit, err := s.Lookup(ctx, "cpu", nil, 1)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Len(t, got, 1)
	})
	t.Run("tags without name fall back to a scan", func(t *testing.T) {
		got, _, err := s.Lookup(ctx, "", map[string]string{"dc": "fra"}, 0)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})
}

func TestNamesAndTagCatalog(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.Ensure(ctx, models.RefByName("cpu", map[string]string{"host": "b"}), models.MetricGauge, 1, 10)
	require.NoError(t, err)
	_, err = s.Ensure(ctx, models.RefByName("cpu", map[string]string{"host": "a"}), models.MetricGauge, 1, 10)
	require.NoError(t, err)
	mustEnsure(t, s, "mem", models.MetricGauge, 1, 10)

	names, err := s.Names(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu", "mem"}, names)

	catalog, err := s.TagCatalog(ctx, "cpu")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"host": {"a", "b"}}, catalog)
}

func TestDeleteRemovesEverythingAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)

	m, err := s.Ensure(ctx, models.RefByName("doomed", map[string]string{"h": "x"}), models.MetricCounter, 1, 16)
	require.NoError(t, err)
	require.NoError(t, s.IngestCounter(ctx, m.ID, 10, 100))
	require.NoError(t, s.IngestCounter(ctx, m.ID, 11, 110))

	require.NoError(t, s.Delete(ctx, m.ID))

	_, err = s.Get(ctx, m.ID)
	assert.Equal(t, "NOT_FOUND", models.ErrorCode(err))
	got, _, err := s.Lookup(ctx, "doomed", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Only the id sequence cell survives.
	assert.Equal(t, 1, backend.Len())

	// Deleting again succeeds and changes nothing.
	require.NoError(t, s.Delete(ctx, m.ID))
	assert.Equal(t, 1, backend.Len())
}

// Retention rewrite re-slots a gauge; samples whose timestamps collide under
// the coarser grid keep the earliest one, the window-boundary sample.
func TestRetentionRewrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	m := mustEnsure(t, s, "rw", models.MetricGauge, 1, 10)

	for ts := int64(0); ts < 10; ts++ {
		require.NoError(t, s.WriteSample(ctx, m.ID, ts, float64(ts)))
	}

	require.NoError(t, s.RetentionRewrite(ctx, m.ID, 2, 10))

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.Step)
	assert.Equal(t, uint32(10), got.Slots)

	samples, err := s.ReadRange(ctx, m.ID, 0, 100)
	require.NoError(t, err)
	// Pairs (0,1), (2,3), ... collapse per 2s window; the window-boundary
	// sample survives, so only even timestamps remain.
	require.Len(t, samples, 5)
	for i, sm := range samples {
		assert.Equal(t, int64(2*i), sm.TS)
		assert.Equal(t, float64(2*i), sm.Value)
		assert.Equal(t, uint32(sm.TS/2)%10, got.SlotFor(sm.TS))
	}
}

func TestRetentionRewriteRejectsCounters(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	m := mustEnsure(t, s, "ctr", models.MetricCounter, 1, 10)

	err := s.RetentionRewrite(ctx, m.ID, 2, 10)
	require.Error(t, err)
	assert.Equal(t, "TYPE_MISMATCH", models.ErrorCode(err))
}
