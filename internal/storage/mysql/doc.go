// Package mysql provides connection pooling and schema migration helpers
// backed by MySQL. Domain stores in internal/assertion and internal/reputation
// build on it for persisting assertion lifecycles and reputation scores.
package mysql
