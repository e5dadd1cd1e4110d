// Package metrics exposes the manager's counters as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pylonengine/netsync/pkg/network"
)

// StatusSource provides point-in-time manager state. Satisfied by
// *network.Manager.
type StatusSource interface {
	Status() network.StatusSnapshot
}

// Collector reads a status snapshot on every scrape, so the tick loop never
// touches Prometheus types.
type Collector struct {
	source StatusSource

	messagesSent     *prometheus.Desc
	messagesReceived *prometheus.Desc
	bytesSent        *prometheus.Desc
	bytesReceived    *prometheus.Desc
	framesDiscarded  *prometheus.Desc
	peersConnected   *prometheus.Desc
	actorsRegistered *prometheus.Desc
	queueDepth       *prometheus.Desc
	uptimeSeconds    *prometheus.Desc
}

// NewCollector creates a collector over a status source.
func NewCollector(source StatusSource) *Collector {
	return &Collector{
		source:           source,
		messagesSent:     prometheus.NewDesc("netsync_messages_sent_total", "Messages written to peers.", nil, nil),
		messagesReceived: prometheus.NewDesc("netsync_messages_received_total", "Messages read from peers.", nil, nil),
		bytesSent:        prometheus.NewDesc("netsync_bytes_sent_total", "Frame bytes written to peers.", nil, nil),
		bytesReceived:    prometheus.NewDesc("netsync_bytes_received_total", "Frame bytes read from peers.", nil, nil),
		framesDiscarded:  prometheus.NewDesc("netsync_frames_discarded_total", "Frames dropped as malformed, unauthorized, or unroutable.", nil, nil),
		peersConnected:   prometheus.NewDesc("netsync_peers_connected", "Peers past the handshake.", nil, nil),
		actorsRegistered: prometheus.NewDesc("netsync_actors_registered", "Actors with a network identity.", nil, nil),
		queueDepth:       prometheus.NewDesc("netsync_inbound_queue_depth", "Frames waiting for the next update.", nil, nil),
		uptimeSeconds:    prometheus.NewDesc("netsync_uptime_seconds", "Accumulated simulation time.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messagesSent
	ch <- c.messagesReceived
	ch <- c.bytesSent
	ch <- c.bytesReceived
	ch <- c.framesDiscarded
	ch <- c.peersConnected
	ch <- c.actorsRegistered
	ch <- c.queueDepth
	ch <- c.uptimeSeconds
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Status()
	ch <- prometheus.MustNewConstMetric(c.messagesSent, prometheus.CounterValue, float64(s.MessagesSent))
	ch <- prometheus.MustNewConstMetric(c.messagesReceived, prometheus.CounterValue, float64(s.MessagesReceived))
	ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(s.BytesSent))
	ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(s.BytesReceived))
	ch <- prometheus.MustNewConstMetric(c.framesDiscarded, prometheus.CounterValue, float64(s.FramesDiscarded))
	ch <- prometheus.MustNewConstMetric(c.peersConnected, prometheus.GaugeValue, float64(len(s.Peers)))
	ch <- prometheus.MustNewConstMetric(c.actorsRegistered, prometheus.GaugeValue, float64(s.Actors))
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(s.QueueDepth))
	ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.CounterValue, s.UptimeSeconds)
}

// NewRegistry creates a Prometheus registry with the collector installed.
func NewRegistry(source StatusSource) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(source))
	return reg
}
