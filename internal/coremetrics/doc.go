// Package coremetrics defines and registers colink-core's Prometheus
// metrics, grounded on the teacher's pkg/metrics: package-level vars
// registered at init, a Handler for the HTTP scrape endpoint, and a
// Timer helper for histogram observations.
package coremetrics
