package appmetrics

import "github.com/prometheus/client_golang/prometheus"

// HubMetrics holds the hub-specific series layered on top of a
// Collector's standard HTTP metrics.
type HubMetrics struct {
	Connections     prometheus.Gauge
	ChannelMembers  *prometheus.GaugeVec
	MessagesSent    *prometheus.CounterVec
	DeliveryLag     *prometheus.HistogramVec
	JoinRejections  *prometheus.CounterVec
}

// NewHubMetrics registers the hub series against collector.
func NewHubMetrics(collector *Collector) *HubMetrics {
	return &HubMetrics{
		Connections: collector.NewGauge(
			"hub_connections", "Current connected clients", nil).WithLabelValues(),
		ChannelMembers: collector.NewGauge(
			"hub_channel_members", "Current members per channel", []string{"channel"}),
		MessagesSent: collector.NewCounter(
			"hub_messages_sent_total", "Total envelopes delivered", []string{"channel", "type"}),
		DeliveryLag: collector.NewHistogram(
			"hub_message_delivery_lag_seconds", "Time between envelope build and transport write", []string{"channel"}, nil),
		JoinRejections: collector.NewCounter(
			"hub_join_rejections_total", "Channel joins rejected", []string{"channel", "reason"}),
	}
}
