// Package kmetrics declares the prometheus collectors the session
// manager and download layer update. Callers obtain a *Registry and
// wire it into whatever prometheus.Registerer the embedding process
// already owns; nothing here reaches for the global DefaultRegisterer,
// keeping registration explicit at wiring time.
package kmetrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric this module emits.
type Registry struct {
	CheckpointCreateDuration prometheus.Histogram
	CheckpointBytesPut       prometheus.Counter
	CheckpointBytesDeduped   prometheus.Counter
	GCObjectsReclaimed       prometheus.Counter
	GCRunDuration            prometheus.Histogram
	DownloadPieceVerifyFail  prometheus.Counter
	DownloadBytesFetched     prometheus.Counter
}

// NewRegistry constructs a Registry and registers every metric on r.
func NewRegistry(r prometheus.Registerer) *Registry {
	reg := &Registry{
		CheckpointCreateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kmsync",
			Subsystem: "checkpoint",
			Name:      "create_duration_seconds",
			Help:      "Time spent sealing one checkpoint, from scan start to manifest rename.",
			Buckets:   prometheus.DefBuckets,
		}),
		CheckpointBytesPut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kmsync",
			Subsystem: "checkpoint",
			Name:      "bytes_put_total",
			Help:      "Bytes of file content written to new CAS objects while sealing checkpoints.",
		}),
		CheckpointBytesDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kmsync",
			Subsystem: "checkpoint",
			Name:      "bytes_deduped_total",
			Help:      "Bytes of file content that matched an already-stored CAS object and were not rewritten.",
		}),
		GCObjectsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kmsync",
			Subsystem: "gc",
			Name:      "objects_reclaimed_total",
			Help:      "CAS and delta objects deleted by garbage collection.",
		}),
		GCRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kmsync",
			Subsystem: "gc",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one garbage_collect invocation.",
			Buckets:   prometheus.DefBuckets,
		}),
		DownloadPieceVerifyFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kmsync",
			Subsystem: "download",
			Name:      "piece_verify_failures_total",
			Help:      "Piece or content hash mismatches observed while verifying a downloaded file.",
		}),
		DownloadBytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kmsync",
			Subsystem: "download",
			Name:      "bytes_fetched_total",
			Help:      "Bytes of downloaded files that passed verification.",
		}),
	}
	r.MustRegister(
		reg.CheckpointCreateDuration,
		reg.CheckpointBytesPut,
		reg.CheckpointBytesDeduped,
		reg.GCObjectsReclaimed,
		reg.GCRunDuration,
		reg.DownloadPieceVerifyFail,
		reg.DownloadBytesFetched,
	)
	return reg
}

// NewUnregisteredRegistry builds a Registry backed by its own private
// prometheus.Registry, for use in tests that don't care about
// exposition but want metric calls to be safe no-ops.
func NewUnregisteredRegistry() *Registry {
	return NewRegistry(prometheus.NewRegistry())
}
