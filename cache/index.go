package cache

import (
	"slices"
	"time"
)

// expirationIndex maps an expiry instant (unix millis) to the fingerprints
// due at that instant. It is not synchronized; MemoryStore guards it.
type expirationIndex struct {
	buckets map[int64]map[string]struct{}
}

func newExpirationIndex() *expirationIndex {
	return &expirationIndex{buckets: make(map[int64]map[string]struct{})}
}

func (x *expirationIndex) add(fingerprint string, at time.Time) {
	ms := at.UnixMilli()
	b, ok := x.buckets[ms]
	if !ok {
		b = make(map[string]struct{})
		x.buckets[ms] = b
	}
	b[fingerprint] = struct{}{}
}

func (x *expirationIndex) remove(fingerprint string, at time.Time) {
	ms := at.UnixMilli()
	b, ok := x.buckets[ms]
	if !ok {
		return
	}
	delete(b, fingerprint)
	if len(b) == 0 {
		delete(x.buckets, ms)
	}
}

// due returns the fingerprints at or before now in ascending expiry order.
// Fingerprints sharing an instant are sorted for a stable result.
func (x *expirationIndex) due(now time.Time) []string {
	limit := now.UnixMilli()
	var stamps []int64
	for ms := range x.buckets {
		if ms <= limit {
			stamps = append(stamps, ms)
		}
	}
	slices.Sort(stamps)

	var out []string
	for _, ms := range stamps {
		start := len(out)
		for fp := range x.buckets[ms] {
			out = append(out, fp)
		}
		slices.Sort(out[start:])
	}
	return out
}

func (x *expirationIndex) size() int {
	n := 0
	for _, b := range x.buckets {
		n += len(b)
	}
	return n
}
