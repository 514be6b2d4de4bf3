package detect

import (
	"sort"

	"github.com/protolens/protolens/pkg/protocol"
)

// Registry holds the ordered probe set a Detector iterates. It is built once
// during detector construction and read-only afterwards.
type Registry struct {
	records []ProbeRecord
}

// newRegistry filters and orders the records: disabled records and records
// whose supported tags are disjoint from the enabled set are dropped; the
// rest are ordered by priority descending, then by smaller minimum window,
// then by registration order.
func newRegistry(records []ProbeRecord, enabled map[protocol.Tag]struct{}) *Registry {
	kept := make([]ProbeRecord, 0, len(records))
	for _, rec := range records {
		if !rec.Enabled {
			continue
		}
		if !rec.SupportsAny(enabled) {
			continue
		}
		kept = append(kept, rec)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Priority != kept[j].Priority {
			return kept[i].Priority > kept[j].Priority
		}
		iw, jw := kept[i].Probe.MinWindow(), kept[j].Probe.MinWindow()
		if iw != jw {
			return iw < jw
		}
		return kept[i].order < kept[j].order
	})
	return &Registry{records: kept}
}

// Len returns the number of live records.
func (r *Registry) Len() int { return len(r.records) }

// Each calls fn for every record in sweep order, stopping early when fn
// returns false.
func (r *Registry) Each(fn func(rec *ProbeRecord) bool) {
	for i := range r.records {
		if !fn(&r.records[i]) {
			return
		}
	}
}

// ByTag returns the records able to report the given tag, in sweep order.
func (r *Registry) ByTag(tag protocol.Tag) []*ProbeRecord {
	var out []*ProbeRecord
	for i := range r.records {
		if r.records[i].Supports(tag) {
			out = append(out, &r.records[i])
		}
	}
	return out
}
