// Package metrics exposes Prometheus metrics for the integration core.
//
// Two kinds of metric live here. Request and command counters are updated
// inline by the API and platform. Bridge, adapter and hub counters already
// exist as atomics inside those components, so they are read at scrape time
// through a Source rather than duplicated.
package metrics
