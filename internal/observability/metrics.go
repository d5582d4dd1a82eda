package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	RoleRequester = "requester"
	RoleResponder = "responder"
)

// Drop reasons.
const (
	ReasonDecode      = "decode"
	ReasonInvalid     = "invalid_argument"
	ReasonUnsupported = "unsupported_command"
	ReasonRateLimited = "rate_limited"
	ReasonForeign     = "foreign_type"
	ReasonRemoteError = "remote_error"
	ReasonSendFailed  = "send_failed"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genlecho",
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Frames sent, by role, command and delivery mode.",
		},
		[]string{"role", "command", "mode"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genlecho",
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Frames received and dispatched, by role and command.",
		},
		[]string{"role", "command"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genlecho",
			Subsystem: "frames",
			Name:      "dropped_total",
			Help:      "Frames dropped on the receive path, by role and reason.",
		},
		[]string{"role", "reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesSent, framesReceived, framesDropped)
	})
}

func RecordSent(role, command, mode string) {
	RegisterMetrics()
	framesSent.WithLabelValues(role, command, mode).Inc()
}

func RecordReceived(role, command string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(role, command).Inc()
}

func RecordDropped(role, reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(role, reason).Inc()
}

// DroppedCount returns the current drop counter for role and reason.
func DroppedCount(role, reason string) float64 {
	return counterValue(framesDropped.WithLabelValues(role, reason))
}

func ReceivedCount(role, command string) float64 {
	return counterValue(framesReceived.WithLabelValues(role, command))
}

func SentCount(role, command, mode string) float64 {
	return counterValue(framesSent.WithLabelValues(role, command, mode))
}
