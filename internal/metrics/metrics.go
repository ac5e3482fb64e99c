// Package metrics exposes flycli's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flycli",
		Name:      "sessions_active",
		Help:      "Number of open control-panel sessions.",
	})
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flycli",
		Name:      "turns_total",
		Help:      "Chat turns by outcome.",
	}, []string{"outcome"})
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flycli",
		Name:      "frames_sent_total",
		Help:      "Frames written to control sessions, by type.",
	}, []string{"type"})
	toolCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flycli",
		Name:      "tool_call_seconds",
		Help:      "Tool call latency by tool and result code.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"tool", "code"})
	proxiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flycli",
		Name:      "proxied_requests_total",
		Help:      "Requests forwarded to the wrapped application, by status class.",
	}, []string{"class"})
)

func SessionOpened() { sessionsActive.Inc() }
func SessionClosed() { sessionsActive.Dec() }

// TurnEnded counts a finished turn by outcome: "finished", "step-limit",
// "aborted", "replaced", "closed" or "error".
func TurnEnded(outcome string) { turnsTotal.WithLabelValues(outcome).Inc() }

func FrameSent(frameType string) { framesTotal.WithLabelValues(frameType).Inc() }

// ObserveTool records one tool call. code is "ok" or the tool error code.
func ObserveTool(tool, code string, elapsed time.Duration) {
	toolCalls.WithLabelValues(tool, code).Observe(elapsed.Seconds())
}

// Proxied counts a forwarded request by status class ("2xx", "502", ...).
func Proxied(status int) {
	class := "other"
	switch {
	case status == http.StatusBadGateway:
		class = "502"
	case status >= 100 && status < 600:
		class = string(rune('0'+status/100)) + "xx"
	}
	proxiedTotal.WithLabelValues(class).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
