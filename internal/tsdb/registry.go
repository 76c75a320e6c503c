package tsdb

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
	"github.com/genc-murat/ringtsdb/internal/storage"
	"github.com/genc-murat/ringtsdb/internal/util"
	"github.com/genc-murat/ringtsdb/pkg/kvcodec"
)

// Ensure resolves ref to a descriptor, creating one on first ingest. step and
// slots of 0 take the configured defaults; non-zero values must match an
// existing descriptor exactly. Concurrent creates of the same (name, tags)
// collapse to a single id through the backend's serializable transactions;
// commit conflicts retry within the transient budget before surfacing.
func (s *Store) Ensure(ctx context.Context, ref models.MetricRef, typ models.MetricType, step, slots uint32) (models.Metric, error) {
	if !typ.Valid() {
		return models.Metric{}, models.Validationf("unknown metric type %d", typ)
	}
	wantStep, wantSlots := step, slots
	if wantStep == 0 {
		wantStep = s.limits.DefaultStep
	}
	if wantSlots == 0 {
		wantSlots = s.limits.DefaultSlots
	}
	if err := util.ValidateGeometry(wantStep, wantSlots, s.limits.MaxWindowSeconds); err != nil {
		return models.Metric{}, err
	}
	if name, tags, ok := ref.ByName(); ok {
		if err := util.ValidateMetricName(name); err != nil {
			return models.Metric{}, err
		}
		if err := util.ValidateTags(tags); err != nil {
			return models.Metric{}, err
		}
	}

	var out models.Metric
	err := storage.WithRetry(ctx, s.retry, s.log, func(ctx context.Context) error {
		return s.backend.Transact(ctx, func(tx ports.Tx) error {
			m, err := s.ensureInTx(tx, ref, typ, step, slots, wantStep, wantSlots)
			if err != nil {
				return err
			}
			out = m
			return nil
		})
	})
	return out, err
}

func (s *Store) ensureInTx(tx ports.Tx, ref models.MetricRef, typ models.MetricType, step, slots, wantStep, wantSlots uint32) (models.Metric, error) {
	if name, tags, ok := ref.ByName(); ok {
		existing, err := s.findByNameTags(tx, name, tags)
		if err != nil {
			return models.Metric{}, err
		}
		if existing != nil {
			return s.checkExisting(*existing, typ, step, slots)
		}

		id, err := s.nextMetricID(tx)
		if err != nil {
			return models.Metric{}, err
		}
		m := models.Metric{
			ID:        id,
			Name:      name,
			Tags:      tags,
			Step:      wantStep,
			Slots:     wantSlots,
			Type:      typ,
			CreatedAt: s.now(),
		}
		tx.Set(kvcodec.DescriptorKey(id), kvcodec.EncodeMetric(m))
		tx.Set(kvcodec.NameIndexKey(name, id), nil)
		for k, v := range tags {
			tx.Set(kvcodec.TagIndexKey(name, k, v, id), nil)
		}
		return m, nil
	}

	id, _ := ref.ByID()
	raw, err := tx.Get(kvcodec.DescriptorKey(id))
	if err != nil {
		return models.Metric{}, err
	}
	if raw == nil {
		// First ingest with an explicit id registers a bare descriptor with
		// no name, hence no index entries.
		m := models.Metric{
			ID:        id,
			Step:      wantStep,
			Slots:     wantSlots,
			Type:      typ,
			CreatedAt: s.now(),
		}
		tx.Set(kvcodec.DescriptorKey(id), kvcodec.EncodeMetric(m))
		return m, nil
	}
	m, err := kvcodec.DecodeMetric(raw)
	if err != nil {
		return models.Metric{}, errors.Mark(err, models.ErrValidation)
	}
	m.ID = id
	return s.checkExisting(m, typ, step, slots)
}

// checkExisting validates a resolved descriptor against the ingest request.
// Geometry is only compared when the caller supplied it explicitly.
func (s *Store) checkExisting(m models.Metric, typ models.MetricType, step, slots uint32) (models.Metric, error) {
	if m.Deleting {
		return models.Metric{}, models.NotFoundf("metric %d is being deleted", m.ID)
	}
	if m.Type != typ {
		return models.Metric{}, models.TypeMismatchf("metric %d is a %s, not a %s", m.ID, m.Type, typ)
	}
	if step != 0 && step != m.Step {
		return models.Metric{}, models.Conflictf("metric %d already registered with step %d", m.ID, m.Step)
	}
	if slots != 0 && slots != m.Slots {
		return models.Metric{}, models.Conflictf("metric %d already registered with %d slots", m.ID, m.Slots)
	}
	return m, nil
}

func (s *Store) findByNameTags(tx ports.ReadTx, name string, tags map[string]string) (*models.Metric, error) {
	begin, end := kvcodec.NameIndexRange(name)
	kvs, err := tx.GetRange(begin, end, 0)
	if err != nil {
		return nil, err
	}
	for _, kv := range kvs {
		id, err := kvcodec.MetricIDFromIndexKey(kv.Key)
		if err != nil {
			return nil, errors.Mark(err, models.ErrValidation)
		}
		m, err := loadMetric(tx, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				// Index entry outlived its descriptor mid-delete; skip.
				continue
			}
			return nil, err
		}
		if m.TagsEqual(tags) {
			return &m, nil
		}
	}
	return nil, nil
}

func (s *Store) nextMetricID(tx ports.Tx) (uint64, error) {
	key := kvcodec.MetricIDSeqKey()
	raw, err := tx.Get(key)
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if raw != nil {
		cur, err := kvcodec.DecodeMetricID(raw)
		if err != nil {
			return 0, errors.Mark(err, models.ErrValidation)
		}
		next = cur + 1
	}
	tx.Set(key, kvcodec.EncodeMetricID(next))
	return next, nil
}

// Get loads one descriptor.
func (s *Store) Get(ctx context.Context, metricID uint64) (models.Metric, error) {
	var out models.Metric
	err := s.backend.ReadTransact(ctx, func(tx ports.ReadTx) error {
		m, err := loadMetric(tx, metricID)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// List returns descriptors in metric_id order, capped.
func (s *Store) List(ctx context.Context) ([]models.Metric, error) {
	var out []models.Metric
	err := s.backend.ReadTransact(ctx, func(tx ports.ReadTx) error {
		begin, end := kvcodec.DescriptorRangeAll()
		kvs, err := tx.GetRange(begin, end, listCap)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, kv := range kvs {
			id, err := kvcodec.MetricIDFromDescriptorKey(kv.Key)
			if err != nil {
				return errors.Mark(err, models.ErrValidation)
			}
			m, err := kvcodec.DecodeMetric(kv.Value)
			if err != nil {
				return errors.Mark(err, models.ErrValidation)
			}
			m.ID = id
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// Lookup filters descriptors by name and a tag subset. Name-backed lookups
// walk the name index; tag-constrained ones intersect per-(name, key, value)
// index sets. hitLimit tells the caller to narrow the lookup; there is no
// cursor or offset to page past the limit.
func (s *Store) Lookup(ctx context.Context, name string, tags map[string]string, limit int) ([]models.Metric, bool, error) {
	if limit <= 0 || limit > s.limits.MaxLookupResults {
		limit = s.limits.MaxLookupResults
	}

	var out []models.Metric
	hitLimit := false
	err := s.backend.ReadTransact(ctx, func(tx ports.ReadTx) error {
		out = out[:0]
		hitLimit = false

		if name == "" {
			// No name means no usable index; fall back to the descriptor scan.
			begin, end := kvcodec.DescriptorRangeAll()
			kvs, err := tx.GetRange(begin, end, listCap)
			if err != nil {
				return err
			}
			for _, kv := range kvs {
				id, err := kvcodec.MetricIDFromDescriptorKey(kv.Key)
				if err != nil {
					return errors.Mark(err, models.ErrValidation)
				}
				m, err := kvcodec.DecodeMetric(kv.Value)
				if err != nil {
					return errors.Mark(err, models.ErrValidation)
				}
				m.ID = id
				if m.Deleting || !tagsSubset(m.Tags, tags) {
					continue
				}
				if len(out) >= limit {
					hitLimit = true
					break
				}
				out = append(out, m)
			}
			return nil
		}

		ids, err := s.candidateIDs(tx, name, tags)
		if err != nil {
			return err
		}
		for _, id := range ids {
			m, err := loadMetric(tx, id)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					continue
				}
				return err
			}
			if m.Deleting || !tagsSubset(m.Tags, tags) {
				continue
			}
			if len(out) >= limit {
				hitLimit = true
				break
			}
			out = append(out, m)
		}
		return nil
	})
	return out, hitLimit, err
}

// candidateIDs resolves the id set for (name, tags): the name index set when
// no tags constrain, otherwise the intersection of the tag index sets.
func (s *Store) candidateIDs(tx ports.ReadTx, name string, tags map[string]string) ([]uint64, error) {
	if len(tags) == 0 {
		begin, end := kvcodec.NameIndexRange(name)
		kvs, err := tx.GetRange(begin, end, 0)
		if err != nil {
			return nil, err
		}
		ids := make([]uint64, 0, len(kvs))
		for _, kv := range kvs {
			id, err := kvcodec.MetricIDFromIndexKey(kv.Key)
			if err != nil {
				return nil, errors.Mark(err, models.ErrValidation)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	var current map[uint64]struct{}
	for k, v := range tags {
		begin, end := kvcodec.TagIndexRange(name, k, v)
		kvs, err := tx.GetRange(begin, end, 0)
		if err != nil {
			return nil, err
		}
		set := make(map[uint64]struct{}, len(kvs))
		for _, kv := range kvs {
			id, err := kvcodec.MetricIDFromIndexKey(kv.Key)
			if err != nil {
				return nil, errors.Mark(err, models.ErrValidation)
			}
			if current == nil {
				set[id] = struct{}{}
				continue
			}
			if _, ok := current[id]; ok {
				set[id] = struct{}{}
			}
		}
		current = set
		if len(current) == 0 {
			return nil, nil
		}
	}

	ids := make([]uint64, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Names returns distinct metric names from the name index, sorted.
func (s *Store) Names(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	var names []string
	err := s.backend.ReadTransact(ctx, func(tx ports.ReadTx) error {
		begin, end := kvcodec.NameIndexRangeAll()
		kvs, err := tx.GetRange(begin, end, listCap)
		if err != nil {
			return err
		}
		names = names[:0]
		var last string
		for _, kv := range kvs {
			elems, err := kvcodec.DecodeTuple(kv.Key)
			if err != nil {
				return errors.Mark(err, models.ErrValidation)
			}
			if len(elems) != 3 {
				continue
			}
			name, ok := elems[1].(string)
			if !ok || name == "" || name == last {
				continue
			}
			last = name
			names = append(names, name)
			if len(names) >= limit {
				break
			}
		}
		return nil
	})
	return names, err
}

// TagCatalog builds tag key -> sorted values, optionally scoped to one name.
// A UI hint; best-effort and capped, not exhaustive at scale.
func (s *Store) TagCatalog(ctx context.Context, name string) (map[string][]string, error) {
	metrics, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	catalog := map[string]map[string]struct{}{}
	for _, m := range metrics {
		if name != "" && m.Name != name {
			continue
		}
		for k, v := range m.Tags {
			if catalog[k] == nil {
				catalog[k] = map[string]struct{}{}
			}
			catalog[k][v] = struct{}{}
		}
	}
	out := make(map[string][]string, len(catalog))
	for k, vals := range catalog {
		list := make([]string, 0, len(vals))
		for v := range vals {
			list = append(list, v)
		}
		sort.Strings(list)
		out[k] = list
	}
	return out, nil
}

// Delete removes a metric: flips the deleting flag, clears samples in
// slot-bounded batches, then drops counter state, index entries and the
// descriptor. Each step is idempotent, so an interrupted delete resumes
// safely on retry. Deleting an absent metric succeeds.
func (s *Store) Delete(ctx context.Context, metricID uint64) error {
	var m models.Metric
	absent := false
	err := storage.WithRetry(ctx, s.retry, s.log, func(ctx context.Context) error {
		return s.backend.Transact(ctx, func(tx ports.Tx) error {
			got, err := loadMetric(tx, metricID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					absent = true
					return nil
				}
				return err
			}
			m = got
			if m.Deleting {
				return nil
			}
			m.Deleting = true
			tx.Set(kvcodec.DescriptorKey(metricID), kvcodec.EncodeMetric(m))
			return nil
		})
	})
	if err != nil || absent {
		return err
	}

	batch := uint32(s.limits.DeleteBatchSlots)
	if batch == 0 {
		batch = m.Slots
	}
	for from := uint32(0); from < m.Slots; from += batch {
		to := from + batch - 1
		if to >= m.Slots {
			to = m.Slots - 1
		}
		begin, end := kvcodec.SampleRange(metricID, from, to)
		err := storage.WithRetry(ctx, s.retry, s.log, func(ctx context.Context) error {
			return s.backend.Transact(ctx, func(tx ports.Tx) error {
				tx.ClearRange(begin, end)
				return nil
			})
		})
		if err != nil {
			return err
		}
	}

	return storage.WithRetry(ctx, s.retry, s.log, func(ctx context.Context) error {
		return s.backend.Transact(ctx, func(tx ports.Tx) error {
			tx.Clear(kvcodec.CounterKey(metricID))
			if m.Name != "" {
				tx.Clear(kvcodec.NameIndexKey(m.Name, metricID))
				for k, v := range m.Tags {
					tx.Clear(kvcodec.TagIndexKey(m.Name, k, v, metricID))
				}
			}
			tx.Clear(kvcodec.DescriptorKey(metricID))
			return nil
		})
	})
}

// RetentionRewrite re-slots a gauge under new ring geometry. All live samples
// are read first; one transaction installs the new descriptor and clears the
// old ring; bounded batches then write the re-slotted samples. After every
// commit the stored slots satisfy the active descriptor's mapping.
func (s *Store) RetentionRewrite(ctx context.Context, metricID uint64, step, slots uint32) error {
	if err := util.ValidateGeometry(step, slots, s.limits.MaxWindowSeconds); err != nil {
		return err
	}
	m, err := s.Get(ctx, metricID)
	if err != nil {
		return err
	}
	if m.Deleting {
		return models.NotFoundf("metric %d is being deleted", metricID)
	}
	if m.Type != models.MetricGauge {
		return models.TypeMismatchf("retention rewrite only applies to gauges, metric %d is a %s", metricID, m.Type)
	}

	samples, err := s.readWholeRing(ctx, m)
	if err != nil {
		return err
	}

	newM := m
	newM.Step = step
	newM.Slots = slots
	reslotted := reslot(samples, newM)

	err = storage.WithRetry(ctx, s.retry, s.log, func(ctx context.Context) error {
		return s.backend.Transact(ctx, func(tx ports.Tx) error {
			begin, end := kvcodec.SampleRangeAll(metricID)
			tx.ClearRange(begin, end)
			tx.Set(kvcodec.DescriptorKey(metricID), kvcodec.EncodeMetric(newM))
			return nil
		})
	})
	if err != nil {
		return err
	}

	chunk := s.limits.DeleteBatchSlots
	if chunk <= 0 {
		chunk = len(reslotted)
	}
	for start := 0; start < len(reslotted); start += chunk {
		stop := start + chunk
		if stop > len(reslotted) {
			stop = len(reslotted)
		}
		part := reslotted[start:stop]
		err := storage.WithRetry(ctx, s.retry, s.log, func(ctx context.Context) error {
			return s.backend.Transact(ctx, func(tx ports.Tx) error {
				for _, rs := range part {
					tx.Set(kvcodec.SampleKey(metricID, rs.slot), kvcodec.EncodeSample(rs.ts, rs.value))
				}
				return nil
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type slottedSample struct {
	slot  uint32
	ts    int64
	value float64
}

// reslot maps samples into the new ring. Within one new window the earliest
// sample is the window's representative (coarsening a ring keeps the sample
// on the window boundary, not a later straggler inside it); when two distinct
// windows collide on a slot the newer window wins, as it would on a live
// ring.
func reslot(samples []models.Sample, m models.Metric) []slottedSample {
	byWindow := map[int64]slottedSample{}
	for _, sm := range samples {
		w := models.FloorDiv(sm.TS, int64(m.Step))
		if cur, ok := byWindow[w]; ok && cur.ts <= sm.TS {
			continue
		}
		byWindow[w] = slottedSample{slot: m.SlotFor(sm.TS), ts: sm.TS, value: sm.Value}
	}

	bySlot := map[uint32]slottedSample{}
	for w, rs := range byWindow {
		if cur, ok := bySlot[rs.slot]; ok {
			curW := models.FloorDiv(cur.ts, int64(m.Step))
			if curW >= w {
				continue
			}
		}
		bySlot[rs.slot] = rs
	}

	out := make([]slottedSample, 0, len(bySlot))
	for _, rs := range bySlot {
		out = append(out, rs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].slot < out[j].slot })
	return out
}

// tagsSubset reports whether all constraints appear in tags.
func tagsSubset(tags, constraints map[string]string) bool {
	for k, v := range constraints {
		if tags[k] != v {
			return false
		}
	}
	return true
}
