package tsdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"

	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
	"github.com/genc-murat/ringtsdb/pkg/kvcodec"
)

// Dashboard definitions are opaque JSON blobs keyed by slug. The engine only
// checks that a blob is JSON and fits in one backend value; structure belongs
// to the front-end.
const maxDashboardBytes = 90_000

func (s *Store) SaveDashboard(ctx context.Context, slug string, blob []byte) error {
	if slug == "" {
		return models.Validationf("dashboard slug is required")
	}
	if len(blob) > maxDashboardBytes {
		return models.LimitExceededf("dashboard %q is %d bytes, cap is %d", slug, len(blob), maxDashboardBytes)
	}
	if !gjson.ValidBytes(blob) {
		return models.Validationf("dashboard %q is not valid JSON", slug)
	}
	return s.backend.Transact(ctx, func(tx ports.Tx) error {
		tx.Set(kvcodec.DashboardKey(slug), blob)
		return nil
	})
}

func (s *Store) GetDashboard(ctx context.Context, slug string) ([]byte, error) {
	var blob []byte
	err := s.backend.ReadTransact(ctx, func(tx ports.ReadTx) error {
		raw, err := tx.Get(kvcodec.DashboardKey(slug))
		if err != nil {
			return err
		}
		if raw == nil {
			return models.NotFoundf("dashboard %q not found", slug)
		}
		blob = raw
		return nil
	})
	return blob, err
}

// ListDashboards returns slug/title pairs in slug order. Titles are pulled
// out of the stored blob without unmarshalling it; a blob with no title
// lists under its slug.
func (s *Store) ListDashboards(ctx context.Context) ([]models.DashboardInfo, error) {
	var out []models.DashboardInfo
	err := s.backend.ReadTransact(ctx, func(tx ports.ReadTx) error {
		begin, end := kvcodec.DashboardRangeAll()
		kvs, err := tx.GetRange(begin, end, 1000)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, kv := range kvs {
			slug, err := kvcodec.SlugFromDashboardKey(kv.Key)
			if err != nil {
				return errors.Mark(err, models.ErrValidation)
			}
			title := gjson.GetBytes(kv.Value, "title").String()
			if title == "" {
				title = slug
			}
			out = append(out, models.DashboardInfo{Slug: slug, Title: title})
		}
		return nil
	})
	return out, err
}

func (s *Store) DeleteDashboard(ctx context.Context, slug string) error {
	if slug == "" {
		return nil
	}
	return s.backend.Transact(ctx, func(tx ports.Tx) error {
		tx.Clear(kvcodec.DashboardKey(slug))
		return nil
	})
}
