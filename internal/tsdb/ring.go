package tsdb

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
	"github.com/genc-murat/ringtsdb/pkg/kvcodec"
)

// WriteSample overwrites the ring slot for ts with {ts, value} in one
// transaction. Overwrite is unconditional: with two writers racing on the
// same slot the later commit wins, regardless of which timestamp is newer.
// Stale occupants of a slot are filtered at read time by their stored ts.
func (s *Store) WriteSample(ctx context.Context, metricID uint64, ts int64, value float64) error {
	return s.backend.Transact(ctx, func(tx ports.Tx) error {
		m, err := loadMetric(tx, metricID)
		if err != nil {
			return err
		}
		if m.Deleting {
			return models.NotFoundf("metric %d is being deleted", metricID)
		}
		tx.Set(kvcodec.SampleKey(metricID, m.SlotFor(ts)), kvcodec.EncodeSample(ts, value))
		return nil
	})
}

// ReadRange returns the samples whose stored ts lies in [startTS, endTS],
// ordered by ts. An unknown or half-deleted metric reads as empty; missing
// slots read as empty. Two strategies, picked by coverage:
//
//   - a full ring scan when the request covers at least half the retention
//     window (restartable across read transactions, relaxed consistency);
//   - wrapped slot-segment reads otherwise, one snapshot.
func (s *Store) ReadRange(ctx context.Context, metricID uint64, startTS, endTS int64) ([]models.Sample, error) {
	if endTS < startTS {
		return nil, nil
	}

	var m models.Metric
	err := s.backend.ReadTransact(ctx, func(tx ports.ReadTx) error {
		got, err := loadMetric(tx, metricID)
		if err != nil {
			return err
		}
		m = got
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if m.Deleting {
		return nil, nil
	}

	startW := models.FloorDiv(startTS, int64(m.Step))
	endW := models.FloorDiv(endTS, int64(m.Step))
	span := endW - startW + 1
	// span <= 0 means the subtraction overflowed on an effectively unbounded
	// request; treat it as full coverage.
	fullScan := span <= 0 || span*2 >= int64(m.Slots)

	var samples []models.Sample
	if fullScan {
		samples, err = s.scanRing(ctx, m, startTS, endTS)
	} else {
		samples, err = s.scanSegments(ctx, m, startW, span, startTS, endTS)
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].TS < samples[j].TS })
	return samples, nil
}

// scanRing walks the whole (1, id, *) keyspace in batches. When a batch limit
// is hit the scan resumes after the last-yielded key in a fresh read
// transaction: a slot overwritten between batches may surface with its newer
// ts. That relaxed consistency is the documented cost of unbounded scans
// against a 5-second transaction window.
func (s *Store) scanRing(ctx context.Context, m models.Metric, startTS, endTS int64) ([]models.Sample, error) {
	begin, end := kvcodec.SampleRangeAll(m.ID)
	batch := s.limits.ScanBatchKeys
	if batch <= 0 {
		batch = 4096
	}

	var out []models.Sample
	for {
		var kvs []models.KeyValue
		err := s.backend.ReadTransact(ctx, func(tx ports.ReadTx) error {
			got, err := tx.GetRange(begin, end, batch)
			if err != nil {
				return err
			}
			kvs = got
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, kv := range kvs {
			sm, ok, err := decodeRingSample(m.ID, kv, startTS, endTS)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, sm)
			}
		}
		if len(kvs) < batch {
			return out, nil
		}
		// Resume just past the last key of this batch.
		begin = append(append([]byte(nil), kvs[len(kvs)-1].Key...), 0x00)
	}
}

// scanSegments reads only the slots the window can occupy: at most
// min(slots, span) of them, as one or two contiguous runs when the window
// wraps the ring end.
func (s *Store) scanSegments(ctx context.Context, m models.Metric, startW, span int64, startTS, endTS int64) ([]models.Sample, error) {
	count := span
	if count > int64(m.Slots) {
		count = int64(m.Slots)
	}
	startSlot := startW % int64(m.Slots)
	if startSlot < 0 {
		startSlot += int64(m.Slots)
	}
	segments := segmentsFor(uint32(startSlot), uint32(count), m.Slots)

	var out []models.Sample
	err := s.backend.ReadTransact(ctx, func(tx ports.ReadTx) error {
		out = out[:0]
		for _, seg := range segments {
			begin, end := kvcodec.SampleRange(m.ID, seg[0], seg[1])
			kvs, err := tx.GetRange(begin, end, 0)
			if err != nil {
				return err
			}
			for _, kv := range kvs {
				sm, ok, err := decodeRingSample(m.ID, kv, startTS, endTS)
				if err != nil {
					return err
				}
				if ok {
					out = append(out, sm)
				}
			}
		}
		return nil
	})
	return out, err
}

// segmentsFor returns the inclusive slot runs covering count slots starting
// at startSlot, wrapping at slots.
func segmentsFor(startSlot, count, slots uint32) [][2]uint32 {
	if count == 0 {
		return nil
	}
	if startSlot+count <= slots {
		return [][2]uint32{{startSlot, startSlot + count - 1}}
	}
	wrap := count - (slots - startSlot)
	return [][2]uint32{
		{startSlot, slots - 1},
		{0, wrap - 1},
	}
}

func decodeRingSample(metricID uint64, kv models.KeyValue, startTS, endTS int64) (models.Sample, bool, error) {
	ts, value, err := kvcodec.DecodeSample(kv.Value)
	if err != nil {
		return models.Sample{}, false, errors.Mark(err, models.ErrValidation)
	}
	if ts < startTS || ts > endTS {
		return models.Sample{}, false, nil
	}
	return models.Sample{MetricID: metricID, TS: ts, Value: value}, true, nil
}

// readWholeRing reads every live sample of a metric, for retention rewrite.
func (s *Store) readWholeRing(ctx context.Context, m models.Metric) ([]models.Sample, error) {
	samples, err := s.scanRing(ctx, m, minInt64, maxInt64)
	if err != nil {
		return nil, err
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].TS < samples[j].TS })
	return samples, nil
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)
