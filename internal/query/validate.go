package query

import (
	"strings"

	"github.com/genc-murat/ringtsdb/internal/core/models"
)

// The schema a query may touch, and the SQL functions it may call beyond the
// registered UDFs. Everything else is denied at prepare time through the
// authorizer.
var allowedTables = map[string]bool{
	"samples":     true,
	"metrics":     true,
	"metric_tags": true,
}

var allowedBuiltins = map[string]bool{
	"abs": true, "avg": true, "cast": true, "coalesce": true, "count": true,
	"dense_rank": true, "first_value": true, "group_concat": true,
	"ifnull": true, "lag": true, "last_value": true, "lead": true,
	"length": true, "like": true, "lower": true, "max": true, "min": true,
	"nullif": true, "ntile": true, "printf": true, "rank": true,
	"round": true, "row_number": true, "substr": true, "sum": true,
	"total": true, "upper": true,
}

var registeredUDFs = map[string]bool{
	"ts_bucket": true, "align_time": true, "shift_ts": true, "clamp": true,
	"null_if_outside": true, "bucket_rate": true, "series_add": true,
	"series_sub": true, "series_mul": true, "series_div": true,
	"counter_rate": true, "diff": true, "period_diff": true,
	"pct_change": true, "rolling_mean": true, "rolling_sum": true,
}

// sqlite3_set_authorizer action and result codes (sqlite3.h). Only the codes
// the engine dispatches on are named here.
const (
	authRead      = 20 // SQLITE_READ
	authSelect    = 21 // SQLITE_SELECT
	authFunction  = 31 // SQLITE_FUNCTION
	authRecursive = 33 // SQLITE_RECURSIVE

	authOK   = 0
	authDeny = 1
)

// validateStatement runs the pre-parse policy checks: one SELECT statement,
// and no unbounded samples scan. Schema and function references are enforced
// separately by the authorizer when the statement is prepared.
func validateStatement(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return models.Validationf("sql is required")
	}
	if i := strings.IndexByte(trimmed, ';'); i >= 0 && strings.TrimSpace(trimmed[i+1:]) != "" {
		return models.Validationf("only a single statement is allowed")
	}
	head := strings.ToLower(trimmed)
	if !strings.HasPrefix(head, "select") && !strings.HasPrefix(head, "with") {
		return models.Validationf("only SELECT statements are allowed")
	}
	return checkBoundedSamplesScan(trimmed)
}

// checkBoundedSamplesScan rejects statements that read the samples table
// without constraining metric_id or ts. The orchestrator pre-filters the
// materialised table by the request's ids and range anyway; this enforces
// the no-unbounded-scan policy on the statement itself.
func checkBoundedSamplesScan(sqlText string) error {
	toks := tokenize(sqlText)
	references := false
	for i, t := range toks {
		if t == "samples" && i > 0 && (toks[i-1] == "from" || toks[i-1] == "join") {
			references = true
			break
		}
	}
	if !references {
		return nil
	}

	whereAt := -1
	for i, t := range toks {
		if t == "where" {
			whereAt = i
			break
		}
	}
	if whereAt < 0 {
		return models.Validationf("queries over samples must filter by metric_id or ts")
	}
	for _, t := range toks[whereAt+1:] {
		if t == "metric_id" || t == "ts" {
			return nil
		}
	}
	return models.Validationf("queries over samples must filter by metric_id or ts")
}

// tokenize lowercases and splits on anything outside [a-z0-9_].
func tokenize(s string) []string {
	s = strings.ToLower(s)
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return toks
}

// authorizer returns the prepare-time callback enforcing the schema and
// function allowlist. denied records the first rejected reference for the
// error message.
func authorizer(denied *string) func(int, string, string, string) int {
	return func(op int, arg1, arg2, arg3 string) int {
		switch op {
		case authSelect, authRecursive:
			return authOK
		case authRead:
			if arg1 == "" || allowedTables[strings.ToLower(arg1)] {
				return authOK
			}
			if *denied == "" {
				*denied = "table " + arg1
			}
			return authDeny
		case authFunction:
			name := strings.ToLower(arg2)
			if allowedBuiltins[name] || registeredUDFs[name] {
				return authOK
			}
			if *denied == "" {
				*denied = "function " + arg2
			}
			return authDeny
		default:
			if *denied == "" {
				*denied = "statement kind"
			}
			return authDeny
		}
	}
}
