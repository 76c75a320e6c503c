package models

// MetricRef addresses a metric either by id or by (name, tags). The ingest
// payload admits both; exactly one side is set.
type MetricRef struct {
	id     uint64
	name   string
	tags   map[string]string
	byName bool
}

func RefByID(id uint64) MetricRef {
	return MetricRef{id: id}
}

func RefByName(name string, tags map[string]string) MetricRef {
	return MetricRef{name: name, tags: tags, byName: true}
}

func (r MetricRef) ByID() (uint64, bool) {
	if r.byName {
		return 0, false
	}
	return r.id, true
}

func (r MetricRef) ByName() (string, map[string]string, bool) {
	if !r.byName {
		return "", nil, false
	}
	return r.name, r.tags, true
}

// Selector resolves a set of metric ids by name and tag constraints for the
// query orchestrator. Alias names the set in the SQL text.
type Selector struct {
	Metric string
	Tags   map[string]string
	Alias  string
}

// QueryRequest is the orchestrator input. MetricIDs and Selectors may both be
// present; they must then resolve to the same id set.
type QueryRequest struct {
	MetricIDs []uint64
	Selectors []Selector
	StartTS   int64
	EndTS     int64
	SQL       string
}
