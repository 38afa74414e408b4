package wind

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/raptorhab/internal/httputil"
	"github.com/banshee-data/raptorhab/internal/timeutil"
)

var fetched = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestProfile_SortedOnConstruction(t *testing.T) {
	p := NewProfile([]Layer{{Altitude: 5000}, {Altitude: 100}, {Altitude: 20000}}, fetched)
	for i := 1; i < len(p.Layers); i++ {
		assert.Less(t, p.Layers[i-1].Altitude, p.Layers[i].Altitude)
	}
}

func TestProfile_At(t *testing.T) {
	p := NewProfile([]Layer{
		{Altitude: 1000, Speed: 10, Direction: 350},
		{Altitude: 3000, Speed: 20, Direction: 10},
		{Altitude: 5000, Speed: 40, Direction: 90},
	}, fetched)

	t.Run("layer altitudes reproduce the layer", func(t *testing.T) {
		for _, l := range p.Layers {
			s, d := p.At(l.Altitude)
			assert.Equal(t, l.Speed, s)
			assert.Equal(t, l.Direction, d)
		}
	})

	t.Run("clamped outside range", func(t *testing.T) {
		s, d := p.At(0)
		assert.Equal(t, 10.0, s)
		assert.Equal(t, 350.0, d)
		s, d = p.At(40000)
		assert.Equal(t, 40.0, s)
		assert.Equal(t, 90.0, d)
	})

	t.Run("shortest arc through north", func(t *testing.T) {
		s, d := p.At(2000)
		assert.InDelta(t, 15.0, s, 1e-9)
		// 350 -> 10 midpoint is north, not south.
		assert.True(t, d < 1e-9 || d > 360-1e-9, "direction %v", d)
	})

	t.Run("ordinary interpolation", func(t *testing.T) {
		s, d := p.At(4000)
		assert.InDelta(t, 30.0, s, 1e-9)
		assert.InDelta(t, 50.0, d, 1e-9)
	})

	t.Run("empty profile", func(t *testing.T) {
		s, d := (&Profile{}).At(100)
		assert.Zero(t, s)
		assert.Zero(t, d)
	})
}

func TestAngles(t *testing.T) {
	assert.InDelta(t, 20.0, AngleDiff(350, 10), 1e-9)
	assert.InDelta(t, -20.0, AngleDiff(10, 350), 1e-9)
	assert.InDelta(t, -180.0, AngleDiff(0, 180), 1e-9)
	assert.InDelta(t, 270.0, NormalizeDegrees(-90), 1e-9)
	assert.InDelta(t, 0.0, NormalizeDegrees(720), 1e-9)
}

func TestProfile_Validity(t *testing.T) {
	p := Uniform(10, 270, fetched)
	assert.True(t, p.IsValid(fetched.Add(59*time.Minute)))
	assert.False(t, p.IsValid(fetched.Add(time.Hour)))
	assert.False(t, (*Profile)(nil).IsValid(fetched))
	assert.False(t, NewProfile(nil, fetched).IsValid(fetched))
	assert.True(t, p.ValidFor(fetched.Add(2*time.Hour), 3*time.Hour))
}

func openMeteoBody(hours []string, levels map[int][3]float64) string {
	var b strings.Builder
	b.WriteString(`{"hourly":{"time":[`)
	for i, h := range hours {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%q", h)
	}
	b.WriteString("]")
	for lvl, v := range levels {
		// Same value for every hour except the speed, which is offset by the
		// hour index so the selected hour is visible.
		for k, name := range []string{"wind_speed", "wind_direction", "geopotential_height"} {
			fmt.Fprintf(&b, `,"%s_%dhPa":[`, name, lvl)
			for i := range hours {
				if i > 0 {
					b.WriteString(",")
				}
				val := v[k]
				if k == 0 {
					val += float64(i)
				}
				fmt.Fprintf(&b, "%g", val)
			}
			b.WriteString("]")
		}
	}
	b.WriteString("}}")
	return b.String()
}

func TestOpenMeteoSource(t *testing.T) {
	body := openMeteoBody(
		[]string{"2026-08-01T11:00", "2026-08-01T12:00", "2026-08-01T13:00"},
		map[int][3]float64{
			1000: {3, 200, 110},
			500:  {20, 260, 5600},
			100:  {12, 90, 16200},
		})
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, body)
	src := NewOpenMeteoSource(mock, "http://forecast.test/v1/forecast")
	src.Now = func() time.Time { return fetched.Add(10 * time.Minute) }

	p, err := src.Fetch(context.Background(), 51.5, -0.12)
	require.NoError(t, err)
	require.Len(t, p.Layers, 3)
	assert.Equal(t, 110.0, p.Layers[0].Altitude)
	assert.Equal(t, 4.0, p.Layers[0].Speed, "12:00 is the nearest hour")
	assert.Equal(t, 16200.0, p.Layers[2].Altitude)
	assert.Equal(t, "open-meteo", p.Source)

	req := mock.Requests[0]
	assert.Equal(t, "ms", req.URL.Query().Get("wind_speed_unit"))
	assert.Contains(t, req.URL.Query().Get("hourly"), "geopotential_height_30hPa")
}

func TestOpenMeteoSource_Errors(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusInternalServerError, "boom").
		AddResponse(http.StatusOK, `{"hourly":{"time":[]}}`).
		AddResponse(http.StatusOK, `{"hourly":{"time":["2026-08-01T12:00"]}}`)
	src := NewOpenMeteoSource(mock, "")
	assert.Equal(t, DefaultOpenMeteoURL, src.BaseURL)

	for i := 0; i < 3; i++ {
		_, err := src.Fetch(context.Background(), 0, 0)
		assert.Error(t, err, "response %d", i)
	}
}

func TestCache_BackgroundRefresh(t *testing.T) {
	clock := timeutil.NewMockClock(fetched)
	var calls atomic.Int32
	src := SourceFunc(func(ctx context.Context, lat, lon float64) (*Profile, error) {
		calls.Add(1)
		return Uniform(10, 270, clock.Now()), nil
	})

	var updates atomic.Int32
	c := NewCache(src, clock, WithRetryInterval(time.Minute))
	c.OnUpdate = func(*Profile) { updates.Add(1) }

	assert.True(t, c.NeedsRefresh())
	assert.True(t, c.MaybeRefresh(context.Background(), 1, 2))
	c.Wait()

	p, ok := c.Valid()
	require.True(t, ok)
	assert.Equal(t, 10.0, p.Layers[0].Speed)
	assert.False(t, c.MaybeRefresh(context.Background(), 1, 2), "fresh profile needs no fetch")

	clock.Advance(61 * time.Minute)
	_, ok = c.Valid()
	assert.False(t, ok)
	assert.NotNil(t, c.Profile(), "stale profile is still readable")
	assert.True(t, c.MaybeRefresh(context.Background(), 1, 2))
	c.Wait()
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(2), updates.Load())
}

func TestCache_SupersededResultDiscarded(t *testing.T) {
	clock := timeutil.NewMockClock(fetched)
	release := make(chan struct{})
	src := SourceFunc(func(ctx context.Context, lat, lon float64) (*Profile, error) {
		<-release
		return Uniform(99, 0, clock.Now()), nil
	})
	c := NewCache(src, clock)

	require.True(t, c.MaybeRefresh(context.Background(), 0, 0))
	assert.False(t, c.MaybeRefresh(context.Background(), 0, 0), "only one fetch in flight")

	manual := Uniform(5, 180, fetched)
	c.Set(manual)
	close(release)
	c.Wait()

	assert.Same(t, manual, c.Profile())
}

func TestCache_InvalidateOrphansFetch(t *testing.T) {
	clock := timeutil.NewMockClock(fetched)
	release := make(chan struct{})
	src := SourceFunc(func(ctx context.Context, lat, lon float64) (*Profile, error) {
		<-release
		return Uniform(7, 0, clock.Now()), nil
	})
	c := NewCache(src, clock)
	require.True(t, c.MaybeRefresh(context.Background(), 0, 0))
	c.Invalidate()
	close(release)
	c.Wait()
	assert.Nil(t, c.Profile())
}

func TestCache_RetryBackoff(t *testing.T) {
	clock := timeutil.NewMockClock(fetched)
	src := SourceFunc(func(ctx context.Context, lat, lon float64) (*Profile, error) {
		return nil, errors.New("offline")
	})
	c := NewCache(src, clock, WithRetryInterval(5*time.Minute))

	require.True(t, c.MaybeRefresh(context.Background(), 0, 0))
	c.Wait()
	assert.EqualError(t, c.LastError(), "offline")
	assert.False(t, c.NeedsRefresh())

	clock.Advance(5 * time.Minute)
	assert.True(t, c.NeedsRefresh())
}

func TestCache_NoSource(t *testing.T) {
	c := NewCache(nil, timeutil.NewMockClock(fetched))
	assert.False(t, c.MaybeRefresh(context.Background(), 0, 0))
	p, err := c.Refresh(context.Background(), 0, 0)
	assert.NoError(t, err)
	assert.Nil(t, p)
}
