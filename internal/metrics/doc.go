// Package metrics provides build and queue metrics for coursebuilder.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no nil checks are needed at call sites:
//
//	perf := buildlog.NewPerf(metrics.NoopRecorder{})
//
// When metrics are enabled the server constructs a PrometheusRecorder on a
// dedicated registry and serves it with HTTPHandler.
package metrics
