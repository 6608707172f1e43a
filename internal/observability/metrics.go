package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cory-johannsen/speedwar/internal/protocol"
)

// Transport label values.
const (
	TransportStream   = "stream"
	TransportDatagram = "datagram"
)

// OtherFrameType is the type label for tags outside a transport's catalogue.
const OtherFrameType = "other"

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	ConnectedSessions  prometheus.Gauge
	FramesTotal        *prometheus.CounterVec
	InvalidFramesTotal prometheus.Counter
	DisconnectsTotal   *prometheus.CounterVec
	RoomsCreatedTotal  prometheus.Counter
	RoomCollisions     prometheus.Counter
	BroadcastDuration  *prometheus.HistogramVec
}

// NewMetrics creates the relay collectors and registers them with reg.
//
// Precondition: reg must be non-nil and must not already hold these collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedwar_connected_sessions",
			Help: "Number of currently registered sessions",
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speedwar_frames_total",
			Help: "Total frames received by transport and type tag",
		}, []string{"transport", "type"}),
		InvalidFramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speedwar_invalid_frames_total",
			Help: "Total unrecognized or malformed stream frames",
		}),
		DisconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speedwar_disconnects_total",
			Help: "Total session disconnections by reason",
		}, []string{"reason"}),
		RoomsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speedwar_rooms_created_total",
			Help: "Total rooms created",
		}),
		RoomCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speedwar_room_id_collisions_total",
			Help: "Room ids reissued while still inside the collision window",
		}),
		BroadcastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speedwar_broadcast_duration_seconds",
			Help:    "Time to fan a frame out to its recipients",
			Buckets: prometheus.DefBuckets,
		}, []string{"transport"}),
	}

	reg.MustRegister(
		m.ConnectedSessions,
		m.FramesTotal,
		m.InvalidFramesTotal,
		m.DisconnectsTotal,
		m.RoomsCreatedTotal,
		m.RoomCollisions,
		m.BroadcastDuration,
	)
	return m
}

// ObserveFrame counts one received frame. Tags are client-controlled, so
// anything outside the transport's catalogue shares the OtherFrameType label.
func (m *Metrics) ObserveFrame(transport string, frameType int16) {
	m.FramesTotal.WithLabelValues(transport, FrameTypeLabel(transport, frameType)).Inc()
}

// FrameTypeLabel returns the bounded type label for a tag received on transport.
func FrameTypeLabel(transport string, frameType int16) string {
	var known bool
	switch transport {
	case TransportStream:
		known = frameType >= protocol.StreamDisconnect && frameType <= protocol.StreamRoom
	case TransportDatagram:
		known = frameType >= protocol.DatagramBind && frameType <= protocol.DatagramPosition
	}
	if !known {
		return OtherFrameType
	}
	return strconv.Itoa(int(frameType))
}

// ObserveBroadcast records the duration of one fan-out started at start.
func (m *Metrics) ObserveBroadcast(transport string, start time.Time) {
	m.BroadcastDuration.WithLabelValues(transport).Observe(time.Since(start).Seconds())
}
