package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/raptorhab/internal/protocol"
)

func sampleAt(seq int) Sample {
	return Sample{Sequence: uint16(seq), Altitude: float64(seq) * 10}
}

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Append(sampleAt(i))
	}
	require.Equal(t, 3, h.Len())

	got := h.Samples()
	assert.Equal(t, uint16(3), got[0].Sequence)
	assert.Equal(t, uint16(5), got[2].Sequence)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, uint16(5), latest.Sequence)
}

func TestHistory_Last(t *testing.T) {
	h := NewHistory(0)
	assert.Equal(t, DefaultHistoryCapacity, h.Capacity())
	assert.Nil(t, h.Last(3))

	for i := 0; i < 4; i++ {
		h.Append(sampleAt(i))
	}
	last := h.Last(2)
	require.Len(t, last, 2)
	assert.Equal(t, uint16(2), last[0].Sequence)
	assert.Equal(t, uint16(3), last[1].Sequence)
	assert.Len(t, h.Last(10), 4)

	// Copies must not alias the internal buffer.
	last[0].Altitude = -1
	assert.Equal(t, 20.0, h.Samples()[2].Altitude)
}

func TestHistory_Reset(t *testing.T) {
	h := NewHistory(5)
	h.Append(sampleAt(1))
	h.Reset()
	assert.Zero(t, h.Len())
	_, ok := h.Latest()
	assert.False(t, ok)
}

func TestFromPayload(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &protocol.Telemetry{Latitude: 52.1, Longitude: 0.2, Altitude: 1200, Satellites: 9, FixType: protocol.Fix3D, BatteryMV: 3700, RSSI: -90}
	s := FromPayload(p, 42, -101.5, 6.25, now)

	assert.Equal(t, uint16(42), s.Sequence)
	assert.Equal(t, -101.5, s.RSSI)
	assert.Equal(t, int8(-90), s.PayloadRSSI)
	assert.Equal(t, now, s.Timestamp)
	assert.True(t, s.HasFix())
	assert.InDelta(t, 3.7, s.BatteryVolts(), 1e-9)
	assert.False(t, Sample{Satellites: 4}.HasFix())
}
