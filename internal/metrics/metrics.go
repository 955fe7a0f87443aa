package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "livepoll", Name: "ws_connections", Help: "Open WebSocket connections",
	})
	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livepoll", Name: "inbound_events_total", Help: "Inbound client events by name",
	}, []string{"event"})
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livepoll", Name: "notifications_total", Help: "Outbound notifications by event",
	}, []string{"event"})
	DroppedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livepoll", Name: "dropped_messages_total", Help: "Messages dropped on full connection buffers",
	})
	DomainErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livepoll", Name: "domain_errors_total", Help: "Failures returned to callers by kind",
	}, []string{"kind"})
	PollsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livepoll", Name: "polls_closed_total", Help: "Closed polls by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(WSConnections, InboundEvents, Notifications, DroppedMessages, DomainErrors, PollsClosed)
}

func Handler() http.Handler { return promhttp.Handler() }
