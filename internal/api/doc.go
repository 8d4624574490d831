// Package api exposes the REST surface of the assertion ledger: opening,
// disputing, and settling assertions, querying agent reputation and accuracy,
// plus operator endpoints for recorder rotation and manual verdict delivery.
// It will also host developer-centric documentation such as OpenAPI
// specifications.
package api
