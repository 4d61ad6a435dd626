// Package metrics exposes pipeline counters in Prometheus format.
//
// Metrics keeps its own registry rather than the global default, so tests
// and multiple instances never collide. It is passed to ingest.Intake and
// persist.Engine as their Recorder, and Serve publishes it on
// metrics.listen (default :9464) at metrics.path.
package metrics
