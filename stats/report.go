package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ErrUnknownSortField is returned for a Query.SortBy that names no Row field.
var ErrUnknownSortField = errors.New("stats: unknown sort field")

// Query filters and orders a report.
type Query struct {
	// Filter keeps rows whose ID or fingerprint contains it. Empty keeps all.
	Filter string

	// SortBy names a Row field (see SortFields). Empty keeps first-seen order.
	SortBy string

	// Desc sorts descending.
	Desc bool
}

// Row is the reporting view of a Record, or of a group of records sharing an ID.
// Latencies are whole milliseconds; averages are rounded.
type Row struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Entries     int        `json:"entries,omitempty"`
	HitCount    uint64     `json:"hitCount"`
	AvgHitMs    int64      `json:"avgHitMs"`
	MinHitMs    int64      `json:"minHitMs"`
	MinHitAt    time.Time  `json:"minHitAt"`
	MaxHitMs    int64      `json:"maxHitMs"`
	MaxHitAt    time.Time  `json:"maxHitAt"`
	MissCount   uint64     `json:"missCount"`
	AvgMissMs   int64      `json:"avgMissMs"`
	MinMissMs   int64      `json:"minMissMs"`
	MinMissAt   time.Time  `json:"minMissAt"`
	MaxMissMs   int64      `json:"maxMissMs"`
	MaxMissAt   time.Time  `json:"maxMissAt"`
	LastError   *ErrorInfo `json:"lastError,omitempty"`
}

type sortKey struct {
	num func(Row) float64
	str func(Row) string
}

var sortKeys = map[string]sortKey{
	"id":          {str: func(r Row) string { return r.ID }},
	"fingerprint": {str: func(r Row) string { return r.Fingerprint }},
	"entries":     {num: func(r Row) float64 { return float64(r.Entries) }},
	"hitCount":    {num: func(r Row) float64 { return float64(r.HitCount) }},
	"avgHit":      {num: func(r Row) float64 { return float64(r.AvgHitMs) }},
	"minHit":      {num: func(r Row) float64 { return float64(r.MinHitMs) }},
	"maxHit":      {num: func(r Row) float64 { return float64(r.MaxHitMs) }},
	"missCount":   {num: func(r Row) float64 { return float64(r.MissCount) }},
	"avgMiss":     {num: func(r Row) float64 { return float64(r.AvgMissMs) }},
	"minMiss":     {num: func(r Row) float64 { return float64(r.MinMissMs) }},
	"maxMiss":     {num: func(r Row) float64 { return float64(r.MaxMissMs) }},
	"lastErrorAt": {num: func(r Row) float64 {
		if r.LastError == nil {
			return 0
		}
		return float64(r.LastError.At.UnixNano())
	}},
}

// SortFields lists the accepted Query.SortBy values.
func SortFields() []string {
	fields := make([]string, 0, len(sortKeys))
	for k := range sortKeys {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Records returns one row per fingerprint.
func (r *Recorder) Records(q Query) ([]Row, error) {
	var rows []Row
	for _, rec := range r.Snapshot() {
		if !matches(q.Filter, rec.ID, rec.Fingerprint) {
			continue
		}
		rows = append(rows, toRow(rec.ID, rec.Fingerprint, 1, rec.Hits, rec.Misses, rec.LastError))
	}
	return rows, sortRows(rows, q)
}

// Groups returns one row per ID, aggregating every fingerprint of the ID.
// The filter applies to each record before grouping.
func (r *Recorder) Groups(q Query) ([]Row, error) {
	type group struct {
		entries      int
		hits, misses Latency
		lastError    *ErrorInfo
	}
	groups := make(map[string]*group)
	var order []string

	for _, rec := range r.Snapshot() {
		if !matches(q.Filter, rec.ID, rec.Fingerprint) {
			continue
		}
		g, ok := groups[rec.ID]
		if !ok {
			g = &group{}
			groups[rec.ID] = g
			order = append(order, rec.ID)
		}
		g.entries++
		g.hits.merge(rec.Hits)
		g.misses.merge(rec.Misses)
		if rec.LastError != nil && (g.lastError == nil || rec.LastError.At.After(g.lastError.At)) {
			g.lastError = rec.LastError
		}
	}

	rows := make([]Row, 0, len(order))
	for _, id := range order {
		g := groups[id]
		rows = append(rows, toRow(id, "", g.entries, g.hits, g.misses, g.lastError))
	}
	return rows, sortRows(rows, q)
}

func matches(filter string, fields ...string) bool {
	if filter == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(f, filter) {
			return true
		}
	}
	return false
}

func toRow(id, fingerprint string, entries int, hits, misses Latency, lastErr *ErrorInfo) Row {
	return Row{
		ID:          id,
		Fingerprint: fingerprint,
		Entries:     entries,
		HitCount:    hits.Count,
		AvgHitMs:    ms(hits.Avg()),
		MinHitMs:    ms(hits.Min),
		MinHitAt:    hits.MinAt,
		MaxHitMs:    ms(hits.Max),
		MaxHitAt:    hits.MaxAt,
		MissCount:   misses.Count,
		AvgMissMs:   ms(misses.Avg()),
		MinMissMs:   ms(misses.Min),
		MinMissAt:   misses.MinAt,
		MaxMissMs:   ms(misses.Max),
		MaxMissAt:   misses.MaxAt,
		LastError:   lastErr,
	}
}

func ms(d time.Duration) int64 {
	return int64(math.Round(float64(d) / float64(time.Millisecond)))
}

// sortRows sorts in place; ties keep their first-seen order.
func sortRows(rows []Row, q Query) error {
	if q.SortBy == "" {
		return nil
	}
	key, ok := sortKeys[q.SortBy]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSortField, q.SortBy)
	}

	less := func(i, j int) bool {
		if key.str != nil {
			a, b := key.str(rows[i]), key.str(rows[j])
			if q.Desc {
				return a > b
			}
			return a < b
		}
		a, b := key.num(rows[i]), key.num(rows[j])
		if q.Desc {
			return a > b
		}
		return a < b
	}
	sort.SliceStable(rows, less)
	return nil
}
