package observability

import (
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ConnectedSessions.Set(2)
	m.ObserveFrame(TransportStream, 3)
	m.ObserveFrame(TransportStream, 3)
	m.ObserveFrame(TransportDatagram, 1)
	m.ObserveBroadcast(TransportStream, time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectedSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("stream", "3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("datagram", "1")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "speedwar_broadcast_duration_seconds")
}

func TestNewMetrics_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestObserveFrame_UnknownTagsShareOneSeries(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	for tag := 5; tag < 5005; tag++ {
		m.ObserveFrame(TransportDatagram, int16(tag))
		m.ObserveFrame(TransportStream, int16(-tag))
	}

	assert.Equal(t, 2, testutil.CollectAndCount(m.FramesTotal))
	assert.Equal(t, 5000.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues(TransportDatagram, OtherFrameType)))
	assert.Equal(t, 5000.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues(TransportStream, OtherFrameType)))
}

func TestFrameTypeLabel_Catalogue(t *testing.T) {
	for tag := int16(-1); tag <= 4; tag++ {
		assert.Equal(t, strconv.Itoa(int(tag)), FrameTypeLabel(TransportStream, tag))
	}
	assert.Equal(t, "0", FrameTypeLabel(TransportDatagram, 0))
	assert.Equal(t, "1", FrameTypeLabel(TransportDatagram, 1))
	assert.Equal(t, OtherFrameType, FrameTypeLabel(TransportDatagram, 2))
	assert.Equal(t, OtherFrameType, FrameTypeLabel(TransportStream, 5))
	assert.Equal(t, OtherFrameType, FrameTypeLabel("carrier-pigeon", 0))
}

// TestFrameTypeLabel_Bounded checks that no tag yields a label outside the
// eight catalogue values plus OtherFrameType.
func TestFrameTypeLabel_Bounded(t *testing.T) {
	allowed := map[string]bool{OtherFrameType: true}
	for tag := -1; tag <= 4; tag++ {
		allowed[strconv.Itoa(tag)] = true
	}
	rapid.Check(t, func(rt *rapid.T) {
		tag := rapid.Int16().Draw(rt, "tag")
		transport := rapid.SampledFrom([]string{TransportStream, TransportDatagram}).Draw(rt, "transport")
		assert.True(rt, allowed[FrameTypeLabel(transport, tag)])
	})
}
