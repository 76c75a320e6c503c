package query

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/genc-murat/ringtsdb/internal/core/models"
)

func TestValidateStatement(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{
			name: "bounded select",
			sql:  "SELECT ts, value FROM samples WHERE metric_id = 42 ORDER BY ts",
		},
		{
			name: "bounded by ts only",
			sql:  "SELECT avg(value) FROM samples WHERE ts >= 100 AND ts <= 200",
		},
		{
			name: "cte with filter",
			sql: `WITH bucketed AS (
  SELECT ts_bucket(ts, 60) AS bucket, max(value) AS value
  FROM samples WHERE metric_id = 1 AND ts >= 0 AND ts <= 100 GROUP BY bucket
) SELECT bucket, value FROM bucketed ORDER BY bucket`,
		},
		{
			name: "metrics without filter is fine",
			sql:  "SELECT metric_id, name FROM metrics",
		},
		{
			name:    "unbounded samples scan",
			sql:     "SELECT * FROM samples",
			wantErr: true,
		},
		{
			name:    "where without metric_id or ts",
			sql:     "SELECT * FROM samples WHERE value > 3",
			wantErr: true,
		},
		{
			name:    "not a select",
			sql:     "DELETE FROM samples WHERE metric_id = 1",
			wantErr: true,
		},
		{
			name:    "two statements",
			sql:     "SELECT 1; SELECT 2",
			wantErr: true,
		},
		{
			name:    "empty",
			sql:     "   ",
			wantErr: true,
		},
		{
			name: "trailing semicolon is fine",
			sql:  "SELECT metric_id FROM samples WHERE metric_id = 1;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStatement(tt.sql)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, models.ErrValidation), "want VALIDATION, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSubstituteAliases(t *testing.T) {
	aliases := map[string][]uint64{"CPU": {42}, "WIDE": {1, 2}}

	out, err := substituteAliases("SELECT * FROM samples WHERE metric_id = {{CPU}} AND ts > 0", aliases)
	assert.NoError(t, err)
	assert.Equal(t, "SELECT * FROM samples WHERE metric_id = 42 AND ts > 0", out)

	_, err = substituteAliases("SELECT {{MISSING}}", aliases)
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = substituteAliases("SELECT {{WIDE}}", aliases)
	assert.True(t, errors.Is(err, models.ErrValidation), "multi-id alias cannot substitute")
}

func TestAuthorizerAllowlist(t *testing.T) {
	var denied string
	cb := authorizer(&denied)

	assert.Equal(t, authOK, cb(authRead, "samples", "ts", ""))
	assert.Equal(t, authOK, cb(authFunction, "", "ts_bucket", ""))
	assert.Equal(t, authOK, cb(authFunction, "", "AVG", ""))

	assert.Equal(t, authDeny, cb(authRead, "sqlite_master", "", ""))
	assert.Equal(t, "table sqlite_master", denied)

	denied = ""
	assert.Equal(t, authDeny, cb(authFunction, "", "load_extension", ""))
	assert.Equal(t, "function load_extension", denied)

	denied = ""
	assert.Equal(t, authDeny, cb(18 /* SQLITE_INSERT */, "samples", "", ""))
}
