package tsdb

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
	"github.com/genc-murat/ringtsdb/pkg/kvcodec"
)

// IngestCounter stores the raw cumulative value in the ring, so rates are
// derived at query time, and advances the advisory counter state in the same
// transaction. The state only moves forward: a late out-of-order ingest still
// lands in its slot but never rewinds last_ts.
//
// Reset detection deliberately does not happen here. The query layer clamps
// negative deltas to zero, which turns a process restart into a flat zero
// instead of a spurious spike.
func (s *Store) IngestCounter(ctx context.Context, metricID uint64, ts int64, rawValue float64) error {
	return s.backend.Transact(ctx, func(tx ports.Tx) error {
		m, err := loadMetric(tx, metricID)
		if err != nil {
			return err
		}
		if m.Deleting {
			return models.NotFoundf("metric %d is being deleted", metricID)
		}
		if m.Type != models.MetricCounter {
			return models.TypeMismatchf("metric %d is a %s, not a counter", metricID, m.Type)
		}

		tx.Set(kvcodec.SampleKey(metricID, m.SlotFor(ts)), kvcodec.EncodeSample(ts, rawValue))

		key := kvcodec.CounterKey(metricID)
		raw, err := tx.Get(key)
		if err != nil {
			return err
		}
		if raw != nil {
			st, err := kvcodec.DecodeCounterState(raw)
			if err != nil {
				return errors.Mark(err, models.ErrValidation)
			}
			if st.LastTS > ts {
				return nil
			}
		}
		tx.Set(key, kvcodec.EncodeCounterState(models.CounterState{LastTS: ts, LastRaw: rawValue}))
		return nil
	})
}

// CounterState reads the advisory last-seen record; ok is false before the
// first counter ingest.
func (s *Store) CounterState(ctx context.Context, metricID uint64) (models.CounterState, bool, error) {
	var st models.CounterState
	found := false
	err := s.backend.ReadTransact(ctx, func(tx ports.ReadTx) error {
		raw, err := tx.Get(kvcodec.CounterKey(metricID))
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		got, err := kvcodec.DecodeCounterState(raw)
		if err != nil {
			return errors.Mark(err, models.ErrValidation)
		}
		st = got
		found = true
		return nil
	})
	return st, found, err
}
