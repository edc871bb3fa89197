package stats

import (
	"runtime/debug"
	"sync"
	"time"
)

// Latency holds the accumulated latency of one outcome (hits or misses).
type Latency struct {
	Count uint64
	Total time.Duration
	Min   time.Duration
	MinAt time.Time
	Max   time.Duration
	MaxAt time.Time
}

// Avg returns Total/Count, or zero when nothing was observed.
func (l Latency) Avg() time.Duration {
	if l.Count == 0 {
		return 0
	}
	return l.Total / time.Duration(l.Count)
}

func (l *Latency) observe(d time.Duration, at time.Time) {
	l.Count++
	l.Total += d
	if l.Count == 1 || d < l.Min {
		l.Min, l.MinAt = d, at
	}
	if l.Count == 1 || d > l.Max {
		l.Max, l.MaxAt = d, at
	}
}

func (l *Latency) merge(o Latency) {
	if o.Count == 0 {
		return
	}
	if l.Count == 0 || o.Min < l.Min {
		l.Min, l.MinAt = o.Min, o.MinAt
	}
	if l.Count == 0 || o.Max > l.Max {
		l.Max, l.MaxAt = o.Max, o.MaxAt
	}
	l.Count += o.Count
	l.Total += o.Total
}

// ErrorInfo describes the most recent compute failure of a record.
type ErrorInfo struct {
	Args    string
	Message string
	Trace   string
	At      time.Time
}

// Record is the statistics of one fingerprint.
type Record struct {
	ID          string
	Fingerprint string
	Hits        Latency
	Misses      Latency
	LastError   *ErrorInfo
}

// Recorder accumulates per-fingerprint statistics for the process lifetime.
// Nothing is ever evicted or reset.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Ordering: snapshots list records in first-seen order.
type Recorder struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string
	now     func() time.Time
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// RecordHit records a lookup served from the cache.
func (r *Recorder) RecordHit(id, fingerprint string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(id, fingerprint).Hits.observe(latency, r.now())
}

// RecordMiss records a lookup that had to compute its value.
func (r *Recorder) RecordMiss(id, fingerprint string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(id, fingerprint).Misses.observe(latency, r.now())
}

// RecordError keeps err as the latest failure of fingerprint, replacing any
// earlier one. The goroutine stack at the time of the call is kept as trace.
func (r *Recorder) RecordError(id, fingerprint, args string, err error) {
	if err == nil {
		return
	}
	info := &ErrorInfo{
		Args:    args,
		Message: err.Error(),
		Trace:   string(debug.Stack()),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	info.At = r.now()
	r.recordLocked(id, fingerprint).LastError = info
}

func (r *Recorder) recordLocked(id, fingerprint string) *Record {
	rec, ok := r.records[fingerprint]
	if !ok {
		rec = &Record{ID: id, Fingerprint: fingerprint}
		r.records[fingerprint] = rec
		r.order = append(r.order, fingerprint)
	}
	return rec
}

// Get returns a copy of the record for fingerprint.
func (r *Recorder) Get(fingerprint string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[fingerprint]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Snapshot returns copies of all records in first-seen order.
func (r *Recorder) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.order))
	for _, fp := range r.order {
		out = append(out, r.records[fp].clone())
	}
	return out
}

func (rec *Record) clone() Record {
	c := *rec
	if rec.LastError != nil {
		e := *rec.LastError
		c.LastError = &e
	}
	return c
}
