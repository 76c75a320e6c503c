// Package query is the SQL layer: a per-request in-memory SQLite database
// fed by the ring store as the virtual tables samples, metrics and
// metric_tags, extended with the time-series UDF set.
package query

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"

	"github.com/cockroachdb/errors"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/genc-murat/ringtsdb/internal/config"
	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
)

type Engine struct {
	store  ports.Store
	limits config.LimitsConfig
	driver *sqlite3.SQLiteDriver
	log    *slog.Logger
}

func NewEngine(store ports.Store, limits config.LimitsConfig, log *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		limits: limits,
		driver: &sqlite3.SQLiteDriver{ConnectHook: registerUDFs},
		log:    log,
	}
}

var aliasPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Run executes one query: resolve the metric set, validate the statement,
// materialise the virtual tables pre-filtered by ids and time range, run the
// plan and stream the rows out. The engine is stateless across requests;
// every call gets a fresh in-memory database.
func (e *Engine) Run(ctx context.Context, req models.QueryRequest) ([]map[string]interface{}, string, error) {
	if req.EndTS < req.StartTS {
		return nil, "", models.Validationf("start_ts must be <= end_ts")
	}

	ids, aliases, err := e.resolve(ctx, req)
	if err != nil {
		return nil, "", err
	}

	sqlText, err := substituteAliases(req.SQL, aliases)
	if err != nil {
		return nil, "", err
	}
	if err := validateStatement(sqlText); err != nil {
		return nil, "", err
	}

	conn, err := e.openConn()
	if err != nil {
		return nil, "", err
	}
	defer conn.Close()

	if err := e.materialize(ctx, conn, ids, req.StartTS, req.EndTS); err != nil {
		return nil, "", err
	}

	rows, err := e.execute(conn, sqlText)
	if err != nil {
		return nil, "", err
	}
	return rows, sqlText, nil
}

// resolve turns selectors and caller-supplied ids into the final sorted id
// set plus the alias -> ids mapping for placeholder substitution.
func (e *Engine) resolve(ctx context.Context, req models.QueryRequest) ([]uint64, map[string][]uint64, error) {
	aliases := map[string][]uint64{}
	idSet := map[uint64]struct{}{}

	for i, sel := range req.Selectors {
		if sel.Metric == "" {
			return nil, nil, models.Validationf("selector.metric is required")
		}
		alias := sel.Alias
		if alias == "" {
			alias = fmt.Sprintf("S%d", i+1)
		}
		if _, dup := aliases[alias]; dup {
			return nil, nil, models.Validationf("duplicate selector alias %q", alias)
		}
		metrics, hitLimit, err := e.store.Lookup(ctx, sel.Metric, sel.Tags, e.limits.MaxLookupResults)
		if err != nil {
			return nil, nil, err
		}
		if len(metrics) == 0 {
			return nil, nil, models.NotFoundf("selector %q matched no metrics", alias)
		}
		if hitLimit {
			return nil, nil, models.Validationf("selector %q matched too many metrics; narrow the tags", alias)
		}
		ids := make([]uint64, len(metrics))
		for j, m := range metrics {
			ids[j] = m.ID
			idSet[m.ID] = struct{}{}
		}
		aliases[alias] = ids
	}

	if len(req.Selectors) > 0 && len(req.MetricIDs) > 0 {
		provided := map[uint64]struct{}{}
		for _, id := range req.MetricIDs {
			provided[id] = struct{}{}
		}
		if len(provided) != len(idSet) {
			return nil, nil, models.Validationf("metric_ids do not match selectors")
		}
		for id := range idSet {
			if _, ok := provided[id]; !ok {
				return nil, nil, models.Validationf("metric_ids do not match selectors")
			}
		}
	}
	if len(idSet) == 0 {
		for _, id := range req.MetricIDs {
			idSet[id] = struct{}{}
		}
	}
	if len(idSet) == 0 {
		return nil, nil, models.Validationf("metric_ids or selectors must resolve to at least one metric")
	}

	ids := make([]uint64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, aliases, nil
}

// substituteAliases replaces {{alias}} placeholders with the single id the
// alias resolved to.
func substituteAliases(sqlText string, aliases map[string][]uint64) (string, error) {
	var substErr error
	out := aliasPattern.ReplaceAllStringFunc(sqlText, func(match string) string {
		alias := aliasPattern.FindStringSubmatch(match)[1]
		ids, ok := aliases[alias]
		if !ok {
			if substErr == nil {
				substErr = models.Validationf("unknown selector alias %q in sql", alias)
			}
			return match
		}
		if len(ids) != 1 {
			if substErr == nil {
				substErr = models.Validationf("selector alias %q must resolve to exactly one metric for substitution", alias)
			}
			return match
		}
		return fmt.Sprintf("%d", ids[0])
	})
	return out, substErr
}

func (e *Engine) openConn() (*sqlite3.SQLiteConn, error) {
	c, err := e.driver.Open(":memory:")
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "opening query database"), models.ErrBackendFatal)
	}
	conn, ok := c.(*sqlite3.SQLiteConn)
	if !ok {
		c.Close()
		return nil, errors.Mark(errors.Newf("unexpected driver connection %T", c), models.ErrBackendFatal)
	}
	return conn, nil
}

// materialize creates and fills the three virtual tables. samples holds only
// the requested ids and range, in (metric_id, ts) order; metrics and
// metric_tags carry the full (capped) registry for discovery joins.
func (e *Engine) materialize(ctx context.Context, conn *sqlite3.SQLiteConn, ids []uint64, startTS, endTS int64) error {
	ddl := []string{
		`CREATE TABLE samples (metric_id INTEGER, ts INTEGER, value REAL, type INTEGER)`,
		`CREATE TABLE metrics (metric_id INTEGER, name TEXT, type INTEGER, step INTEGER, slots INTEGER)`,
		`CREATE TABLE metric_tags (metric_id INTEGER, tag_key TEXT, tag_value TEXT)`,
	}
	for _, q := range ddl {
		if _, err := conn.Exec(q, nil); err != nil {
			return errors.Mark(errors.Wrap(err, "creating virtual tables"), models.ErrBackendFatal)
		}
	}

	metricsList, err := e.store.List(ctx)
	if err != nil {
		return err
	}
	types := map[uint64]models.MetricType{}

	insertMetric, err := conn.Prepare(`INSERT INTO metrics VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Mark(err, models.ErrBackendFatal)
	}
	insertTag, err := conn.Prepare(`INSERT INTO metric_tags VALUES (?, ?, ?)`)
	if err != nil {
		insertMetric.Close()
		return errors.Mark(err, models.ErrBackendFatal)
	}
	for _, m := range metricsList {
		types[m.ID] = m.Type
		_, err := insertMetric.Exec([]driver.Value{int64(m.ID), m.Name, int64(m.Type), int64(m.Step), int64(m.Slots)})
		if err != nil {
			insertMetric.Close()
			insertTag.Close()
			return errors.Mark(err, models.ErrBackendFatal)
		}
		tagKeys := make([]string, 0, len(m.Tags))
		for k := range m.Tags {
			tagKeys = append(tagKeys, k)
		}
		sort.Strings(tagKeys)
		for _, k := range tagKeys {
			if _, err := insertTag.Exec([]driver.Value{int64(m.ID), k, m.Tags[k]}); err != nil {
				insertMetric.Close()
				insertTag.Close()
				return errors.Mark(err, models.ErrBackendFatal)
			}
		}
	}
	insertMetric.Close()
	insertTag.Close()

	insertSample, err := conn.Prepare(`INSERT INTO samples VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Mark(err, models.ErrBackendFatal)
	}
	defer insertSample.Close()

	const bytesPerRow = 32
	rowCount := 0
	for _, id := range ids {
		samples, err := e.store.ReadRange(ctx, id, startTS, endTS)
		if err != nil {
			return err
		}
		typ := int64(types[id])
		for _, sm := range samples {
			rowCount++
			if rowCount > e.limits.MaxQueryRows || rowCount*bytesPerRow > e.limits.MaxQueryBytes {
				return models.LimitExceededf("query materialises more than %d rows", e.limits.MaxQueryRows)
			}
			_, err := insertSample.Exec([]driver.Value{int64(sm.MetricID), sm.TS, sm.Value, typ})
			if err != nil {
				return errors.Mark(err, models.ErrBackendFatal)
			}
		}
	}
	return nil
}

// execute prepares the statement under the authorizer and collects the
// result rows.
func (e *Engine) execute(conn *sqlite3.SQLiteConn, sqlText string) ([]map[string]interface{}, error) {
	var denied string
	conn.RegisterAuthorizer(authorizer(&denied))

	rows, err := conn.Query(sqlText, nil)
	if err != nil {
		if denied != "" {
			return nil, models.Validationf("query references unknown %s", denied)
		}
		return nil, models.Validationf("invalid sql: %v", err)
	}
	defer rows.Close()

	cols := rows.Columns()
	out := []map[string]interface{}{}
	vals := make([]driver.Value, len(cols))
	for {
		if err := rows.Next(vals); err != nil {
			if err == io.EOF {
				break
			}
			return nil, models.Validationf("query failed: %v", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(vals[i])
		}
		out = append(out, row)
		if len(out) > e.limits.MaxQueryRows {
			return nil, models.LimitExceededf("query returned more than %d rows", e.limits.MaxQueryRows)
		}
	}
	return out, nil
}

func normalizeValue(v driver.Value) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	default:
		return x
	}
}
