// Package admin serves the cache's reporting and invalidation API over HTTP.
//
// The /cache routes list live entries, per-fingerprint and per-ID
// statistics, and invalidate by ID or fingerprint. They accept either an
// HS256 bearer token or an X-API-Key header; with no credentials configured
// they are open. Health probes are mounted alongside and never require
// credentials.
package admin
