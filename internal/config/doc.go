// Package config provides centralized configuration management for the
// OpenOracle daemon, covering the API server, logging, storage drivers, the
// event stream, market and identity data sources, and settlement sweeping.
// It will offer hot reload capabilities and typed accessors for downstream
// services.
package config
