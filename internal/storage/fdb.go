// Package storage provides the transactional KV backends underneath the
// engine: the FoundationDB adapter used in production and an ordered
// in-memory backend for development and tests. Both satisfy ports.Backend.
package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/cockroachdb/errors"

	"github.com/genc-murat/ringtsdb/internal/config"
	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
)

var apiVersionOnce sync.Once

// FDB wraps one process-wide FoundationDB database handle. The client library
// multiplexes all traffic over a single network thread, so one handle is the
// whole connection pool.
type FDB struct {
	db  fdb.Database
	cfg config.PoolConfig
	log *slog.Logger
}

// OpenFDB connects to the cluster named by cfg.ClusterFile (or the platform
// default file when empty). Fails fast when the cluster is unreachable.
func OpenFDB(cfg config.BackendConfig, pool config.PoolConfig, log *slog.Logger) (*FDB, error) {
	apiVersionOnce.Do(func() {
		fdb.MustAPIVersion(cfg.APIVersion)
	})

	var db fdb.Database
	var err error
	if cfg.ClusterFile != "" {
		db, err = fdb.OpenDatabase(cfg.ClusterFile)
	} else {
		db, err = fdb.OpenDefault()
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "opening fdb cluster"), models.ErrBackendFatal)
	}

	log.Info("connected to foundationdb", "cluster_file", cfg.ClusterFile)
	return &FDB{db: db, cfg: pool, log: log}, nil
}

func (s *FDB) ReadTransact(ctx context.Context, fn func(ports.ReadTx) error) error {
	_, err := s.db.ReadTransact(func(rtr fdb.ReadTransaction) (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fn(fdbReadTx{rtr})
	})
	return s.classify(ctx, err)
}

func (s *FDB) Transact(ctx context.Context, fn func(ports.Tx) error) error {
	_, err := s.db.Transact(func(tr fdb.Transaction) (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.cfg.TxnTimeout > 0 {
			tr.Options().SetTimeout(s.cfg.TxnTimeout.Duration().Milliseconds())
		}
		if s.cfg.RetryAttempts > 0 {
			tr.Options().SetRetryLimit(int64(s.cfg.RetryAttempts))
		}
		return nil, fn(fdbTx{tr})
	})
	return s.classify(ctx, err)
}

func (s *FDB) Close() error {
	// The Go bindings hold no closable per-database state; dropping the
	// handle is enough.
	return nil
}

// classify maps an exhausted fdb error onto the error-kind model. Retryable
// codes were already retried inside Transact up to the configured limit.
func (s *FDB) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Mark(ctxErr, models.ErrBackendTransient)
	}
	// Engine-level errors pass through untouched.
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrConflict) ||
		errors.Is(err, models.ErrTypeMismatch) || errors.Is(err, models.ErrValidation) ||
		errors.Is(err, models.ErrLimitExceeded) {
		return err
	}
	var fdbErr fdb.Error
	if errors.As(err, &fdbErr) {
		if retryableCode(fdbErr.Code) {
			return errors.Mark(errors.Wrap(err, "backend transaction"), models.ErrBackendTransient)
		}
		return errors.Mark(errors.Wrap(err, "backend transaction"), models.ErrBackendFatal)
	}
	return errors.Mark(err, models.ErrBackendFatal)
}

// Retryable fdb error codes: not_committed, commit_unknown_result,
// transaction_too_old, future_version, process_behind, timed out variants.
func retryableCode(code int) bool {
	switch code {
	case 1004, 1007, 1009, 1020, 1021, 1031, 1037:
		return true
	}
	return false
}

type fdbReadTx struct {
	rtr fdb.ReadTransaction
}

func (t fdbReadTx) Get(key []byte) ([]byte, error) {
	return t.rtr.Get(fdb.Key(key)).Get()
}

func (t fdbReadTx) GetRange(begin, end []byte, limit int) ([]models.KeyValue, error) {
	kr := fdb.KeyRange{Begin: fdb.Key(begin), End: fdb.Key(end)}
	kvs, err := t.rtr.GetRange(kr, fdb.RangeOptions{Limit: limit}).GetSliceWithError()
	if err != nil {
		return nil, err
	}
	out := make([]models.KeyValue, len(kvs))
	for i, kv := range kvs {
		out[i] = models.KeyValue{Key: kv.Key, Value: kv.Value}
	}
	return out, nil
}

type fdbTx struct {
	tr fdb.Transaction
}

func (t fdbTx) Get(key []byte) ([]byte, error) {
	return t.tr.Get(fdb.Key(key)).Get()
}

func (t fdbTx) GetRange(begin, end []byte, limit int) ([]models.KeyValue, error) {
	return fdbReadTx{t.tr}.GetRange(begin, end, limit)
}

func (t fdbTx) Set(key, value []byte) {
	t.tr.Set(fdb.Key(key), value)
}

func (t fdbTx) Clear(key []byte) {
	t.tr.Clear(fdb.Key(key))
}

func (t fdbTx) ClearRange(begin, end []byte) {
	t.tr.ClearRange(fdb.KeyRange{Begin: fdb.Key(begin), End: fdb.Key(end)})
}
