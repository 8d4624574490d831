// Package market defines the read-only catalog of assertable markets: the
// outcome sets, minimum bond thresholds, challenge window durations, and
// volume snapshots the ledger consults when an assertion is opened. Catalogs
// are loaded from YAML metadata files and are expected to grow richer over
// time with per-market fee schedules and externally sourced volume feeds.
package market
