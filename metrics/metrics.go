// Package metrics defines the kernel's Prometheus metric types.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: packets, requests, retries.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
//
// Of the metrics below, only AppOverflowCount, AppDropCount and
// KernelEventCount are updated by other packages of this module.
// PktRetryCount, PktSarLatencyHistogram, RipRouteChurn, RipTableSize,
// DirDispatchLatencyHistogram and DirHintHitCount are registered and
// exported, but nothing in the module increments, observes or sets them.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PktRetryCount counts send_internet/sar_internet retry attempts,
	// labeled by whether the retry eventually succeeded.
	//
	// Provides metrics:
	//   kernel_pkt_retry_total
	PktRetryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernel_pkt_retry_total",
			Help: "Number of PKT send retries, by outcome.",
		}, []string{"outcome"})

	// PktSarLatencyHistogram tracks the round-trip latency of
	// sar_internet calls.
	PktSarLatencyHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kernel_pkt_sar_latency_seconds",
			Help:    "sar_internet round-trip latency distribution (seconds)",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		},
	)

	// RipRouteChurn counts RIP table mutations, labeled by class and
	// by whether the change was an install, an age transition, or a
	// reclaim.
	//
	// Provides metrics:
	//   kernel_rip_route_churn_total
	RipRouteChurn = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernel_rip_route_churn_total",
			Help: "RIP routing table churn events, by class and kind.",
		}, []string{"class", "kind"})

	// RipTableSize reports the live entry count per route class.
	RipTableSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kernel_rip_table_size",
			Help: "Number of networks currently known per RIP route class.",
		}, []string{"class"})

	// DirDispatchLatencyHistogram tracks DIR_$DO_OP latency from first
	// hint attempt to final return, labeled by outcome.
	DirDispatchLatencyHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kernel_dir_dispatch_latency_seconds",
			Help:    "DIR dispatch latency distribution (seconds), by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"outcome"})

	// DirHintHitCount counts whether a DIR dispatch's first hint
	// succeeded ("hit") or a later hint or legacy fallback was needed
	// ("miss").
	//
	// Provides metrics:
	//   kernel_dir_hint_total
	DirHintHitCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernel_dir_hint_total",
			Help: "DIR route-hint outcomes, hit on first hint vs miss.",
		}, []string{"outcome"})

	// AppOverflowCount tracks APP_$DEMUX's file_overflow and
	// overflow_overflow counters from spec.md's socket-4 spillover
	// path.
	//
	// Provides metrics:
	//   kernel_app_overflow_total
	AppOverflowCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernel_app_overflow_total",
			Help: "APP demux overflow events, by stage (file_overflow, overflow_overflow).",
		}, []string{"stage"})

	// AppDropCount counts packets APP_$DEMUX returned to the pool
	// because the header did not parse, the destination socket is not
	// open, or a non-file socket was full. File-socket packets dropped
	// after the overflow socket is also full are counted only under
	// AppOverflowCount's "overflow_overflow" stage.
	AppDropCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kernel_app_drop_total",
			Help: "Packets dropped by APP demux: unparseable header, socket not open, or non-file socket full.",
		},
	)

	// KernelEventCount counts events published on the eventsocket, by
	// kind (socket_open, socket_close, port_up, port_down).
	//
	// Provides metrics:
	//   kernel_event_total
	KernelEventCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernel_event_total",
			Help: "Kernel lifecycle events published on the eventsocket, by kind.",
		}, []string{"kind"})
)

// init() prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in domain-kernel.metrics are registered.")
}
