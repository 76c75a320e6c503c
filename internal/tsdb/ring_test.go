package tsdb

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genc-murat/ringtsdb/internal/config"
	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
	"github.com/genc-murat/ringtsdb/internal/storage"
	"github.com/genc-murat/ringtsdb/pkg/kvcodec"
)

func newTestStore(t *testing.T) (*Store, *storage.Memory) {
	t.Helper()
	backend := storage.NewMemory()
	cfg := config.Default()
	store := NewStore(backend, cfg.Limits, cfg.Pool, slog.Default())
	store.now = func() int64 { return 1_700_000_000 }
	return store, backend
}

func mustEnsure(t *testing.T, s *Store, name string, typ models.MetricType, step, slots uint32) models.Metric {
	t.Helper()
	m, err := s.Ensure(context.Background(), models.RefByName(name, nil), typ, step, slots)
	require.NoError(t, err)
	return m
}

// Ring overwrite: with step=1, slots=4, the fifth write lands on slot 0 and
// replaces the first.
func TestRingOverwrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	m := mustEnsure(t, s, "ring", models.MetricGauge, 1, 4)

	for i, v := range []float64{1, 2, 3, 4, 5} {
		require.NoError(t, s.WriteSample(ctx, m.ID, int64(100+i), v))
	}

	got, err := s.ReadRange(ctx, m.ID, 100, 104)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, want := range []models.Sample{
		{MetricID: m.ID, TS: 101, Value: 2},
		{MetricID: m.ID, TS: 102, Value: 3},
		{MetricID: m.ID, TS: 103, Value: 4},
		{MetricID: m.ID, TS: 104, Value: 5},
	} {
		assert.Equal(t, want, got[i])
	}
}

func TestSlotMath(t *testing.T) {
	m := models.Metric{Step: 60, Slots: 1440}
	assert.Equal(t, uint32(1333), m.SlotFor(1_700_000_000))

	tests := []struct {
		name  string
		step  uint32
		slots uint32
		ts    int64
		want  uint32
	}{
		{name: "zero ts", step: 1, slots: 4, ts: 0, want: 0},
		{name: "wraps", step: 1, slots: 4, ts: 6, want: 2},
		{name: "pre-epoch floors", step: 60, slots: 10, ts: -1, want: 9},
		{name: "wide step", step: 300, slots: 12, ts: 3600, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := models.Metric{Step: tt.step, Slots: tt.slots}
			assert.Equal(t, tt.want, m.SlotFor(tt.ts))
		})
	}
}

// Stored slots always satisfy slot = floorDiv(ts, step) mod slots, and the
// live key count never exceeds the ring size.
func TestRingInvariants(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)
	m := mustEnsure(t, s, "inv", models.MetricGauge, 7, 13)

	tss := []int64{0, 3, 7, 14, 50, 91, 92, 200, 203, 1000, 1001, 9999, 10_001, 655, 333}
	for i, ts := range tss {
		require.NoError(t, s.WriteSample(ctx, m.ID, ts, float64(i)))
	}

	begin, end := kvcodec.SampleRangeAll(m.ID)
	var kvs []models.KeyValue
	require.NoError(t, backend.ReadTransact(ctx, func(tx ports.ReadTx) error {
		got, err := tx.GetRange(begin, end, 0)
		kvs = got
		return err
	}))

	assert.LessOrEqual(t, len(kvs), int(m.Slots))
	for _, kv := range kvs {
		slot, err := kvcodec.SlotFromSampleKey(kv.Key)
		require.NoError(t, err)
		ts, _, err := kvcodec.DecodeSample(kv.Value)
		require.NoError(t, err)
		assert.Equal(t, m.SlotFor(ts), slot, "slot %d holds ts %d", slot, ts)
	}
}

func TestReadRangeFiltersStaleSlots(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	m := mustEnsure(t, s, "stale", models.MetricGauge, 1, 10)

	require.NoError(t, s.WriteSample(ctx, m.ID, 5, 1))
	require.NoError(t, s.WriteSample(ctx, m.ID, 100, 2))

	// The slot written at ts=5 is live, but outside the queried range it
	// must not surface.
	got, err := s.ReadRange(ctx, m.ID, 90, 110)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].TS)
}

func TestReadRangeEdges(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	m := mustEnsure(t, s, "edges", models.MetricGauge, 1, 8)
	require.NoError(t, s.WriteSample(ctx, m.ID, 10, 1))

	t.Run("inverted range", func(t *testing.T) {
		got, err := s.ReadRange(ctx, m.ID, 20, 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
	t.Run("unknown metric reads empty", func(t *testing.T) {
		got, err := s.ReadRange(ctx, 9999, 0, 100)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
	t.Run("narrow window uses slot enumeration", func(t *testing.T) {
		got, err := s.ReadRange(ctx, m.ID, 10, 11)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, float64(1), got[0].Value)
	})
	t.Run("unbounded request is a full scan", func(t *testing.T) {
		got, err := s.ReadRange(ctx, m.ID, minInt64, maxInt64)
		require.NoError(t, err)
		require.Len(t, got, 1)
	})
}

// A wrapped query window reads as two slot segments; samples still come back
// in ts order.
func TestReadRangeWrapsRing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	m := mustEnsure(t, s, "wrap", models.MetricGauge, 10, 100)

	// Windows 98, 99, 100, 101 -> slots 98, 99, 0, 1.
	for _, ts := range []int64{980, 990, 1000, 1010} {
		require.NoError(t, s.WriteSample(ctx, m.ID, ts, float64(ts)))
	}
	got, err := s.ReadRange(ctx, m.ID, 980, 1010)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].TS, got[i].TS)
	}
}

func TestSegmentsFor(t *testing.T) {
	tests := []struct {
		name      string
		startSlot uint32
		count     uint32
		slots     uint32
		want      [][2]uint32
	}{
		{name: "empty", startSlot: 3, count: 0, slots: 10, want: nil},
		{name: "no wrap", startSlot: 2, count: 3, slots: 10, want: [][2]uint32{{2, 4}}},
		{name: "to the edge", startSlot: 7, count: 3, slots: 10, want: [][2]uint32{{7, 9}}},
		{name: "wraps", startSlot: 8, count: 4, slots: 10, want: [][2]uint32{{8, 9}, {0, 1}}},
		{name: "full ring from middle", startSlot: 5, count: 10, slots: 10, want: [][2]uint32{{5, 9}, {0, 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, segmentsFor(tt.startSlot, tt.count, tt.slots))
		})
	}
}

func TestWriteSampleToDeletingMetricFails(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)
	m := mustEnsure(t, s, "doomed", models.MetricGauge, 1, 4)

	// Flip the deleting flag the way an in-flight delete would.
	deleting := m
	deleting.Deleting = true
	require.NoError(t, backend.Transact(ctx, func(tx ports.Tx) error {
		tx.Set(kvcodec.DescriptorKey(m.ID), kvcodec.EncodeMetric(deleting))
		return nil
	}))

	err := s.WriteSample(ctx, m.ID, 1, 1)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", models.ErrorCode(err))

	// Reads treat the half-deleted metric as empty.
	got, err := s.ReadRange(ctx, m.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
