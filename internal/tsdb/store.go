// Package tsdb is the ring storage engine: metric registry, slot ring
// reads/writes, counter state and dashboard blobs, all persisted through a
// transactional ordered KV backend.
package tsdb

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/genc-murat/ringtsdb/internal/config"
	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
	"github.com/genc-murat/ringtsdb/pkg/kvcodec"
)

// listCap bounds descriptor scans for listings and catalogs.
const listCap = 10_000

type Store struct {
	backend ports.Backend
	limits  config.LimitsConfig
	retry   models.RetryStrategy
	log     *slog.Logger
	now     func() int64
}

func NewStore(backend ports.Backend, limits config.LimitsConfig, pool config.PoolConfig, log *slog.Logger) *Store {
	retry := models.DefaultRetryStrategy
	if pool.RetryAttempts > 0 {
		retry.MaxAttempts = pool.RetryAttempts
	}
	if pool.RetryDelay > 0 {
		retry.InitialInterval = pool.RetryDelay.Duration()
	}
	return &Store{
		backend: backend,
		limits:  limits,
		retry:   retry,
		log:     log,
		now:     func() int64 { return time.Now().Unix() },
	}
}

// loadMetric reads and decodes one descriptor inside a transaction. Absent
// descriptors report NOT_FOUND.
func loadMetric(tx ports.ReadTx, metricID uint64) (models.Metric, error) {
	raw, err := tx.Get(kvcodec.DescriptorKey(metricID))
	if err != nil {
		return models.Metric{}, err
	}
	if raw == nil {
		return models.Metric{}, models.NotFoundf("metric %d not found", metricID)
	}
	m, err := kvcodec.DecodeMetric(raw)
	if err != nil {
		return models.Metric{}, errors.Mark(err, models.ErrValidation)
	}
	m.ID = metricID
	return m, nil
}
