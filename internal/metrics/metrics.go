package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
    ReconcileTransitions = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "magnetron",
            Name:      "reconcile_transitions_total",
            Help:      "Download URL status transitions applied by the reconciler.",
        },
        []string{"to"},
    )

    DownloaderRPCErrors = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "magnetron",
            Name:      "downloader_rpc_errors_total",
            Help:      "Errors from downloader client calls.",
        },
        []string{"backend", "method"},
    )

    DownloaderRPCLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "magnetron",
            Name:      "downloader_rpc_latency_seconds",
            Help:      "Latency of downloader client calls.",
        },
        []string{"backend", "method"},
    )

    DispatchSubmissions = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "magnetron",
            Name:      "dispatch_submissions_total",
            Help:      "Torrents submitted by the immediate-download dispatcher.",
        },
        []string{"result"},
    )

    PreviewRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "magnetron",
            Name:      "preview_requests_total",
            Help:      "Magnet preview lookups by outcome.",
        },
        []string{"result"},
    )

    ActiveTorrents = prometheus.NewGauge(
        prometheus.GaugeOpts{
            Namespace: "magnetron",
            Name:      "active_torrents",
            Help:      "Live torrents reported by the active downloader on the last reconcile.",
        },
    )
)

// Register registers the magnetron metrics into the default registry.
func Register() {
    prometheus.MustRegister(ReconcileTransitions, DownloaderRPCErrors, DownloaderRPCLatency, DispatchSubmissions, PreviewRequests, ActiveTorrents)
}
