package downloader

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/metrics"
)

// Track starts a latency timer for one backend call. The returned func
// stops it and counts err, if any, against the same labels.
func Track(backend data.DownloaderName, method string) func(err error) {
	timer := prometheus.NewTimer(metrics.DownloaderRPCLatency.WithLabelValues(string(backend), method))
	return func(err error) {
		timer.ObserveDuration()
		if err != nil {
			metrics.DownloaderRPCErrors.WithLabelValues(string(backend), method).Inc()
		}
	}
}
