// Package stats records per-fingerprint cache usage: hit and miss counts,
// latency totals and extremes with the time each extreme was observed, and
// the most recent compute failure.
//
// Counts only grow. Averages are derived from total/count at read time and
// never stored. Reports can be filtered by substring and sorted by any
// field, ascending or descending, with ties kept in first-seen order.
package stats
