package storage

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
)

// Memory is an ordered in-memory backend with serializable (mutex-serialized)
// transactions. It backs unit tests and the "memory" backend type for local
// development; semantics mirror the FDB adapter minus durability.
type Memory struct {
	mu   sync.Mutex
	tree *btree.BTreeG[kvItem]
}

type kvItem struct {
	key   []byte
	value []byte
}

func lessKV(a, b kvItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

func NewMemory() *Memory {
	return &Memory{tree: btree.NewG[kvItem](16, lessKV)}
}

func (s *Memory) ReadTransact(ctx context.Context, fn func(ports.ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{tree: s.tree})
}

func (s *Memory) Transact(ctx context.Context, fn func(ports.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{tree: s.tree}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Memory) Close() error {
	return nil
}

// Len reports the number of live keys; test helper.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

// memTx buffers writes and applies them on commit, so a failed transaction
// function leaves the tree untouched, like an aborted backend transaction.
type memTx struct {
	tree *btree.BTreeG[kvItem]
	ops  []memOp
}

type memOp struct {
	set        bool
	clearRange bool
	key        []byte
	value      []byte
	end        []byte
}

func (t *memTx) Get(key []byte) ([]byte, error) {
	// Reads observe buffered writes of the same transaction.
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		switch {
		case op.set && bytes.Equal(op.key, key):
			return append([]byte(nil), op.value...), nil
		case op.clearRange && bytes.Compare(key, op.key) >= 0 && bytes.Compare(key, op.end) < 0:
			return nil, nil
		case !op.set && !op.clearRange && bytes.Equal(op.key, key):
			return nil, nil
		}
	}
	if it, ok := t.tree.Get(kvItem{key: key}); ok {
		return append([]byte(nil), it.value...), nil
	}
	return nil, nil
}

func (t *memTx) GetRange(begin, end []byte, limit int) ([]models.KeyValue, error) {
	merged := map[string][]byte{}
	t.tree.AscendRange(kvItem{key: begin}, kvItem{key: end}, func(it kvItem) bool {
		merged[string(it.key)] = it.value
		return true
	})
	for _, op := range t.ops {
		switch {
		case op.set:
			if bytes.Compare(op.key, begin) >= 0 && bytes.Compare(op.key, end) < 0 {
				merged[string(op.key)] = op.value
			}
		case op.clearRange:
			for k := range merged {
				kb := []byte(k)
				if bytes.Compare(kb, op.key) >= 0 && bytes.Compare(kb, op.end) < 0 {
					delete(merged, k)
				}
			}
		default:
			delete(merged, string(op.key))
		}
	}

	out := make([]models.KeyValue, 0, len(merged))
	for k, v := range merged {
		out = append(out, models.KeyValue{Key: []byte(k), Value: append([]byte(nil), v...)})
	}
	sortKeyValues(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) Set(key, value []byte) {
	t.ops = append(t.ops, memOp{set: true, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (t *memTx) Clear(key []byte) {
	t.ops = append(t.ops, memOp{key: append([]byte(nil), key...)})
}

func (t *memTx) ClearRange(begin, end []byte) {
	t.ops = append(t.ops, memOp{clearRange: true, key: append([]byte(nil), begin...), end: append([]byte(nil), end...)})
}

func (t *memTx) commit() {
	for _, op := range t.ops {
		switch {
		case op.set:
			t.tree.ReplaceOrInsert(kvItem{key: op.key, value: op.value})
		case op.clearRange:
			var doomed [][]byte
			t.tree.AscendRange(kvItem{key: op.key}, kvItem{key: op.end}, func(it kvItem) bool {
				doomed = append(doomed, it.key)
				return true
			})
			for _, k := range doomed {
				t.tree.Delete(kvItem{key: k})
			}
		default:
			t.tree.Delete(kvItem{key: op.key})
		}
	}
	t.ops = nil
}

func sortKeyValues(kvs []models.KeyValue) {
	// Insertion sort; range reads in tests are small.
	for i := 1; i < len(kvs); i++ {
		for j := i; j > 0 && bytes.Compare(kvs[j].Key, kvs[j-1].Key) < 0; j-- {
			kvs[j], kvs[j-1] = kvs[j-1], kvs[j]
		}
	}
}
