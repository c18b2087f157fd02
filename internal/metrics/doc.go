// Package metrics defines the Prometheus collectors exported on /metrics.
//
// All recording helpers are nil-safe so components can run without a
// registry in tests.
package metrics
