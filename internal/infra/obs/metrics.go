package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChatMetrics exports chat counters to Prometheus.
type ChatMetrics struct {
	registry *prometheus.Registry

	sent           *prometheus.CounterVec
	sendFailures   prometheus.Counter
	metaFailures   prometheus.Counter
	lookupFailures *prometheus.CounterVec
	streamErrors   *prometheus.CounterVec
	liveViews      *prometheus.GaugeVec
}

// NewChatMetrics registers the chat collectors on a private registry along
// with the Go and process collectors.
func NewChatMetrics() *ChatMetrics {
	reg := prometheus.NewRegistry()
	m := &ChatMetrics{
		registry: reg,
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages appended to a conversation log",
		}, []string{"path"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_send_failures_total",
			Help: "Sends that failed to append the message",
		}),
		metaFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_metadata_update_failures_total",
			Help: "Sends whose conversation metadata update failed",
		}),
		lookupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_lookup_failures_total",
			Help: "Profile and listing lookups that fell back to placeholders",
		}, []string{"kind"}),
		streamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_stream_errors_total",
			Help: "Errors delivered by live subscriptions",
		}, []string{"view"}),
		liveViews: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_live_views",
			Help: "Active live views",
		}, []string{"view"}),
	}
	reg.MustRegister(
		m.sent,
		m.sendFailures,
		m.metaFailures,
		m.lookupFailures,
		m.streamErrors,
		m.liveViews,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *ChatMetrics) MessageSent(fallback bool) {
	path := "primary"
	if fallback {
		path = "direct"
	}
	m.sent.WithLabelValues(path).Inc()
}

func (m *ChatMetrics) SendFailed()                { m.sendFailures.Inc() }
func (m *ChatMetrics) MetadataUpdateFailed()      { m.metaFailures.Inc() }
func (m *ChatMetrics) LookupFailed(kind string)   { m.lookupFailures.WithLabelValues(kind).Inc() }
func (m *ChatMetrics) StreamError(view string)    { m.streamErrors.WithLabelValues(view).Inc() }
func (m *ChatMetrics) LiveViewOpened(view string) { m.liveViews.WithLabelValues(view).Inc() }
func (m *ChatMetrics) LiveViewClosed(view string) { m.liveViews.WithLabelValues(view).Dec() }

// Handler serves the registry for Prometheus scraping.
func (m *ChatMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *ChatMetrics) Registry() *prometheus.Registry {
	return m.registry
}
