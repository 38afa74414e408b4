package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/raptorhab/internal/protocol"
)

func TestFlight_Run(t *testing.T) {
	p := DefaultProfile()
	p.ImageEvery = 200
	ticks, stream := NewFlight(p).Run()
	require.NotEmpty(t, ticks)

	first, last := ticks[0], ticks[len(ticks)-1]
	assert.Equal(t, p.Start, first.Time)
	assert.Equal(t, p.LaunchAltitude, first.Telemetry.Altitude)
	assert.True(t, last.Landed)
	assert.Equal(t, p.LaunchAltitude, last.Telemetry.Altitude)
	assert.Greater(t, last.Telemetry.Longitude, p.Longitude, "a westerly carries the payload east")

	var top float64
	for _, tk := range ticks {
		top = max(top, tk.Telemetry.Altitude)
	}
	assert.Equal(t, p.BurstAltitude, top)

	fx := protocol.NewFrameExtractor()
	frames := fx.Extract(stream)
	kinds := map[protocol.PacketType]int{}
	for _, f := range frames {
		pkt, err := protocol.DecodePacket(f.Packet)
		require.NoError(t, err)
		kinds[pkt.Type]++
		assert.InDelta(t, p.RSSI, f.RSSI, 1e-9)
	}
	assert.Equal(t, len(ticks), kinds[protocol.TypeTelemetry])
	assert.Equal(t, len(ticks)/200, kinds[protocol.TypeImageMeta])
	assert.Equal(t, 8*kinds[protocol.TypeImageMeta], kinds[protocol.TypeImageData])
	assert.Zero(t, fx.Stats().ChecksumMismatch)
}

func TestSplitImage(t *testing.T) {
	data := TestImage(3, 450)
	meta, symbols := SplitImage(3, data)
	require.Len(t, symbols, 3)
	assert.Equal(t, uint16(3), meta.NumSourceSymbols)
	assert.Equal(t, uint32(450), meta.TotalSize)
	assert.Equal(t, protocol.Checksum(data), meta.CRC32)
	assert.Equal(t, data[400:], symbols[2].Symbol[:50])
	assert.Equal(t, make([]byte, 150), symbols[2].Symbol[50:])
	assert.NotEqual(t, TestImage(3, 16), TestImage(4, 16))
}
