// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TranscodesTotal counts finished transcode jobs.
	TranscodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcache_transcodes_total",
		Help: "Transcode jobs by strategy and outcome",
	}, []string{"strategy", "outcome"}) // outcome=success|lenient|error|canceled

	// TranscodeReadySeconds tracks time from job start until the playlist is consumable.
	TranscodeReadySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamcache_transcode_ready_seconds",
		Help:    "Time from job start until the playlist became consumable",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12), // 250ms to ~8.5min
	}, []string{"strategy"})

	// TranscodesInFlight tracks running jobs.
	TranscodesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamcache_transcodes_in_flight",
		Help: "Transcode jobs currently running",
	})

	// EncoderProcesses tracks external encoder processes still alive, including
	// the ones muxing in the background after their job was answered.
	EncoderProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamcache_encoder_processes",
		Help: "External encoder processes currently alive",
	})

	// FramePipelinePackets counts packets handled by the in-process pipeline by mode.
	FramePipelinePackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcache_frame_pipeline_packets_total",
		Help: "Packets handled by the frame pipeline",
	}, []string{"mode"}) // mode=copy|transcode|drop
)

// ObserveTranscode records the outcome of one job.
func ObserveTranscode(strategy, outcome string, elapsed time.Duration) {
	TranscodesTotal.WithLabelValues(strategy, outcome).Inc()
	if outcome == "success" || outcome == "lenient" {
		TranscodeReadySeconds.WithLabelValues(strategy).Observe(elapsed.Seconds())
	}
}

var (
	procSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcache_proc_signals_total",
		Help: "Signals sent to child process groups",
	}, []string{"signal", "result"}) // result=sent|esrch|error

	procExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcache_proc_exits_total",
		Help: "Child process exits observed during termination",
	}, []string{"kind"}) // kind=exit0|exit_nonzero|forced_exit0|forced_error
)

// IncProcSignal counts a signal delivery attempt.
func IncProcSignal(signal, result string) {
	procSignals.WithLabelValues(signal, result).Inc()
}

// IncProcExit counts how a terminated child exited.
func IncProcExit(kind string) {
	procExits.WithLabelValues(kind).Inc()
}
