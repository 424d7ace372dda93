// Package metrics records rebuild observability data.
//
// Components receive a Recorder and default to NoopRecorder, so callers never
// check for nil:
//
//	recorder := metrics.NoopRecorder{}
//	if cfg.Daemon.StatusAddr != "" {
//		recorder = metrics.NewPrometheusRecorder(registry)
//	}
//
// The Prometheus implementation registers its collectors on the registry it is
// given; HTTPHandler exposes that registry for scraping.
package metrics
