package detect

import (
	"sort"
)

// magicKey is the dispatch key for offset-zero literal signatures.
type magicKey [2]byte

// magicTable is the O(1) fast-path dispatcher. Signatures whose pattern is a
// case-sensitive literal of at least two bytes at offset zero are bucketed by
// their first two bytes; everything else (non-zero offsets, search rules,
// case-folded rules, purely structural rules) lives on the overflow list,
// which is consulted on every lookup alongside the bucket.
type magicTable struct {
	buckets  map[magicKey][]Signature
	overflow []Signature
}

func newMagicTable(sigs []Signature) *magicTable {
	t := &magicTable{buckets: make(map[magicKey][]Signature)}
	for _, s := range sigs {
		if s.Offset == 0 && !s.search && !s.CaseFold && len(s.Pattern) >= 2 {
			key := magicKey{s.Pattern[0], s.Pattern[1]}
			t.buckets[key] = append(t.buckets[key], s)
		} else {
			t.overflow = append(t.overflow, s)
		}
	}
	// Within a bucket higher base confidence is tried first; ties keep
	// registration order. The overflow list stays in registration order so
	// more specific search rules can be registered ahead of broader ones.
	for key := range t.buckets {
		bucket := t.buckets[key]
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].BaseConfidence > bucket[j].BaseConfidence
		})
	}
	return t
}

// quickMatch holds a fast-path verdict.
type quickMatch struct {
	sig      Signature
	evidence int
}

// quickDetect runs the fast path over the window: the two-byte bucket
// first, then the overflow list unconditionally. When both sides fire, the
// higher base confidence wins; ties go to the longer literal evidence, then
// to the bucket.
func (t *magicTable) quickDetect(window []byte) *quickMatch {
	if len(window) < 2 {
		return nil
	}
	var fromBucket *quickMatch
	key := magicKey{window[0], window[1]}
	for i := range t.buckets[key] {
		sig := &t.buckets[key][i]
		if ok, evidence := sig.Matches(window); ok {
			fromBucket = &quickMatch{sig: *sig, evidence: evidence}
			break
		}
	}
	var fromOverflow *quickMatch
	for i := range t.overflow {
		sig := &t.overflow[i]
		if ok, evidence := sig.Matches(window); ok {
			fromOverflow = &quickMatch{sig: *sig, evidence: evidence}
			break
		}
	}
	switch {
	case fromBucket == nil:
		return fromOverflow
	case fromOverflow == nil:
		return fromBucket
	case fromOverflow.sig.BaseConfidence > fromBucket.sig.BaseConfidence:
		return fromOverflow
	case fromOverflow.sig.BaseConfidence == fromBucket.sig.BaseConfidence &&
		fromOverflow.evidence > fromBucket.evidence:
		return fromOverflow
	default:
		return fromBucket
	}
}

// signatures returns every registered signature, bucketed and overflow alike.
func (t *magicTable) signatures() []Signature {
	var out []Signature
	for _, bucket := range t.buckets {
		out = append(out, bucket...)
	}
	out = append(out, t.overflow...)
	return out
}
