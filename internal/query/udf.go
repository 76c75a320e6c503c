package query

import (
	"math"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// registerUDFs installs the time-series functions on every engine
// connection. All scalar functions are pure: NULL in, NULL out; arithmetic
// is IEEE-754 double and NaN propagates. The aggregate registrations double
// as window functions under PARTITION BY ... ORDER BY, where the default
// cumulative frame makes the last two rows of the frame the adjacent pair.
func registerUDFs(conn *sqlite3.SQLiteConn) error {
	scalars := []struct {
		name string
		fn   interface{}
	}{
		{"ts_bucket", tsBucket},
		{"align_time", alignTime},
		{"shift_ts", shiftTS},
		{"clamp", clamp},
		{"null_if_outside", nullIfOutside},
		{"bucket_rate", bucketRate},
		{"series_add", seriesAdd},
		{"series_sub", seriesSub},
		{"series_mul", seriesMul},
		{"series_div", seriesDiv},
	}
	for _, s := range scalars {
		if err := conn.RegisterFunc(s.name, s.fn, true); err != nil {
			return err
		}
	}

	aggregates := []struct {
		name string
		ctor interface{}
	}{
		{"counter_rate", newCounterRate},
		{"diff", newDiff},
		{"period_diff", newPeriodDiff},
		{"pct_change", newPctChange},
		{"rolling_mean", newRollingMean},
		{"rolling_sum", newRollingSum},
	}
	for _, a := range aggregates {
		if err := conn.RegisterAggregator(a.name, a.ctor, true); err != nil {
			return err
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func toInt(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	}
	return 0, false
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// tsBucket truncates ts to the start of its width-second bucket.
func tsBucket(ts, width interface{}) interface{} {
	t, ok := toInt(ts)
	if !ok {
		return nil
	}
	w, ok := toInt(width)
	if !ok || w <= 0 {
		return nil
	}
	return floorDiv(t, w) * w
}

// alignTime truncates ts to the step grid anchored at origin (third argument
// optional, defaults to 0).
func alignTime(args ...interface{}) interface{} {
	if len(args) < 2 || len(args) > 3 {
		return nil
	}
	t, ok := toInt(args[0])
	if !ok {
		return nil
	}
	step, ok := toInt(args[1])
	if !ok || step <= 0 {
		return nil
	}
	var origin int64
	if len(args) == 3 && args[2] != nil {
		o, ok := toInt(args[2])
		if !ok {
			return nil
		}
		origin = o
	}
	return floorDiv(t-origin, step)*step + origin
}

func shiftTS(ts, offset interface{}) interface{} {
	t, ok := toInt(ts)
	if !ok {
		return nil
	}
	o, ok := toInt(offset)
	if !ok {
		return nil
	}
	return t + o
}

func clamp(x, lo, hi interface{}) interface{} {
	v, ok := toFloat(x)
	if !ok {
		return nil
	}
	l, ok := toFloat(lo)
	if !ok {
		return nil
	}
	h, ok := toFloat(hi)
	if !ok {
		return nil
	}
	if v < l {
		return l
	}
	if v > h {
		return h
	}
	return v
}

// nullIfOutside keeps x only inside [lo, hi]. Comparisons involving NaN are
// NULL.
func nullIfOutside(x, lo, hi interface{}) interface{} {
	v, ok := toFloat(x)
	if !ok {
		return nil
	}
	l, ok := toFloat(lo)
	if !ok {
		return nil
	}
	h, ok := toFloat(hi)
	if !ok {
		return nil
	}
	if math.IsNaN(v) || math.IsNaN(l) || math.IsNaN(h) {
		return nil
	}
	if v < l || v > h {
		return nil
	}
	return v
}

// bucketRate is the per-bucket counter rate: max(0, curr-prev)/width. NULL
// when prev is NULL or width <= 0. Clamping negative deltas to zero turns a
// counter reset into a flat zero instead of a spike.
func bucketRate(curr, prev, width interface{}) interface{} {
	c, ok := toFloat(curr)
	if !ok {
		return nil
	}
	p, ok := toFloat(prev)
	if !ok {
		return nil
	}
	w, ok := toInt(width)
	if !ok || w <= 0 {
		return nil
	}
	delta := c - p
	if delta < 0 {
		delta = 0
	}
	return delta / float64(w)
}

func seriesAdd(a, b interface{}) interface{} {
	x, ok := toFloat(a)
	if !ok {
		return nil
	}
	y, ok := toFloat(b)
	if !ok {
		return nil
	}
	return x + y
}

func seriesSub(a, b interface{}) interface{} {
	x, ok := toFloat(a)
	if !ok {
		return nil
	}
	y, ok := toFloat(b)
	if !ok {
		return nil
	}
	return x - y
}

func seriesMul(a, b interface{}) interface{} {
	x, ok := toFloat(a)
	if !ok {
		return nil
	}
	y, ok := toFloat(b)
	if !ok {
		return nil
	}
	return x * y
}

func seriesDiv(a, b interface{}) interface{} {
	x, ok := toFloat(a)
	if !ok {
		return nil
	}
	y, ok := toFloat(b)
	if !ok || y == 0 {
		return nil
	}
	return x / y
}

// counterRate is the windowed counter rate: at row i of its frame,
// max(0, v[i]-v[i-1]) / (b[i]-b[i-1]); NULL at the partition boundary or on
// a non-increasing bucket column.
type counterRate struct {
	values  []interface{}
	buckets []interface{}
}

func newCounterRate() *counterRate { return &counterRate{} }

func (c *counterRate) Step(value, bucket interface{}) {
	c.values = append(c.values, value)
	c.buckets = append(c.buckets, bucket)
}

func (c *counterRate) Done() interface{} {
	i := len(c.values) - 1
	if i < 1 {
		return nil
	}
	curr, ok := toFloat(c.values[i])
	if !ok {
		return nil
	}
	prev, ok := toFloat(c.values[i-1])
	if !ok {
		return nil
	}
	b1, ok := toFloat(c.buckets[i])
	if !ok {
		return nil
	}
	b0, ok := toFloat(c.buckets[i-1])
	if !ok {
		return nil
	}
	if b1 <= b0 {
		return nil
	}
	delta := curr - prev
	if delta < 0 {
		delta = 0
	}
	return delta / (b1 - b0)
}

// nBack aggregates share the "value column plus period argument" shape.
type nBack struct {
	values  []interface{}
	periods int64
}

func (a *nBack) Step(value, periods interface{}) {
	a.values = append(a.values, value)
	if n, ok := toInt(periods); ok && n >= 1 {
		a.periods = n
	}
}

func (a *nBack) pair() (curr, prev float64, ok bool) {
	n := a.periods
	if n < 1 {
		n = 1
	}
	i := int64(len(a.values)) - 1
	if i < n {
		return 0, 0, false
	}
	c, okc := toFloat(a.values[i])
	p, okp := toFloat(a.values[i-n])
	if !okc || !okp {
		return 0, 0, false
	}
	return c, p, true
}

type diffAgg struct{ nBack }

func newDiff() *diffAgg { return &diffAgg{} }

func (a *diffAgg) Done() interface{} {
	curr, prev, ok := a.pair()
	if !ok {
		return nil
	}
	return curr - prev
}

type periodDiffAgg struct{ nBack }

func newPeriodDiff() *periodDiffAgg { return &periodDiffAgg{} }

func (a *periodDiffAgg) Done() interface{} {
	curr, prev, ok := a.pair()
	if !ok {
		return nil
	}
	return curr - prev
}

type pctChangeAgg struct{ nBack }

func newPctChange() *pctChangeAgg { return &pctChangeAgg{} }

func (a *pctChangeAgg) Done() interface{} {
	curr, prev, ok := a.pair()
	if !ok || prev == 0 {
		return nil
	}
	return (curr - prev) / prev
}

// rolling aggregates average or sum the trailing window, skipping NULLs.
type rolling struct {
	values []interface{}
	window int64
}

func (a *rolling) Step(value, window interface{}) {
	a.values = append(a.values, value)
	if n, ok := toInt(window); ok && n >= 1 {
		a.window = n
	}
}

func (a *rolling) tail() (sum float64, count int) {
	n := a.window
	if n < 1 {
		n = 1
	}
	start := int64(len(a.values)) - n
	if start < 0 {
		start = 0
	}
	for _, v := range a.values[start:] {
		if f, ok := toFloat(v); ok {
			sum += f
			count++
		}
	}
	return sum, count
}

type rollingMeanAgg struct{ rolling }

func newRollingMean() *rollingMeanAgg { return &rollingMeanAgg{} }

func (a *rollingMeanAgg) Done() interface{} {
	sum, count := a.tail()
	if count == 0 {
		return nil
	}
	return sum / float64(count)
}

type rollingSumAgg struct{ rolling }

func newRollingSum() *rollingSumAgg { return &rollingSumAgg{} }

func (a *rollingSumAgg) Done() interface{} {
	sum, count := a.tail()
	if count == 0 {
		return nil
	}
	return sum
}
