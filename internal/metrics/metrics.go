// Package metrics defines the Prometheus collectors shared by the RADIUS
// responders, the session store and the device client. Collectors register
// with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── RADIUS ───────────────────────────────────────────────────────────────────

// PacketsTotal counts datagrams answered or dropped, by listener and packet code.
// Labels:
//   - server: "auth" or "acct"
//   - code: request code name, e.g. "Access-Request"
var PacketsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "radius_packets_total",
		Help: "Total number of RADIUS datagrams received, by server and code.",
	},
	[]string{"server", "code"},
)

// MalformedTotal counts datagrams that failed to decode or authenticate.
var MalformedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "radius_malformed_total",
		Help: "Total number of RADIUS datagrams that could not be decoded.",
	},
	[]string{"server"},
)

// AuthDecisionsTotal counts authentication outcomes.
// Label:
//   - result: "accept", "reject", "missing_attributes" or "error"
var AuthDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "radius_auth_decisions_total",
		Help: "Total number of Access-Request decisions, by result.",
	},
	[]string{"result"},
)

// AccountingEventsTotal counts accounting requests by Acct-Status-Type.
var AccountingEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "radius_accounting_events_total",
		Help: "Total number of Accounting-Request events, by status type.",
	},
	[]string{"status"},
)

// ── Sessions ─────────────────────────────────────────────────────────────────

// StoreErrorsTotal counts failed session store writes.
// Labels:
//   - store: "cache" or "durable"
//   - op: "start", "update" or "stop"
var StoreErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "session_store_errors_total",
		Help: "Total number of failed session store operations.",
	},
	[]string{"store", "op"},
)

// QueueDepth tracks the number of accounting jobs waiting on each worker.
var QueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "session_queue_depth",
		Help: "Current number of accounting jobs pending in each worker channel.",
	},
	[]string{"worker_id"},
)

// ── Device ───────────────────────────────────────────────────────────────────

// DeviceLoginTotal counts device login calls.
// Label:
//   - result: "success", "rejected" or "transport_error"
var DeviceLoginTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "device_login_total",
		Help: "Total number of hotspot login calls to the access device, by result.",
	},
	[]string{"result"},
)
