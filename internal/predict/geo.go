package predict

import "math"

const (
	// EarthRadius is the mean Earth radius used for great-circle distances.
	EarthRadius = 6371000.0
	// MetresPerDegree is the flat-earth length of one degree of latitude.
	MetresPerDegree = 111320.0
)

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

// Haversine returns the great-circle distance in metres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := rad(lat1), rad(lat2)
	dphi := rad(lat2 - lat1)
	dl := rad(lon2 - lon1)
	a := math.Sin(dphi/2)*math.Sin(dphi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dl/2)*math.Sin(dl/2)
	return EarthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Bearing returns the initial great-circle bearing from point 1 to point 2
// in [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := rad(lat1), rad(lat2)
	dl := rad(lon2 - lon1)
	x := math.Sin(dl) * math.Cos(phi2)
	y := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dl)
	return math.Mod(deg(math.Atan2(x, y))+360, 360)
}

// Offset moves (lat, lon) by dx metres east and dy metres north using the
// flat-earth approximation.
func Offset(lat, lon, dx, dy float64) (float64, float64) {
	newLat := lat + dy/MetresPerDegree
	cos := math.Cos(rad(lat))
	if math.Abs(cos) < 1e-9 {
		return newLat, lon
	}
	return newLat, lon + dx/(MetresPerDegree*cos)
}

// Drift moves (lat, lon) downwind for dt seconds under a wind of speed m/s
// blowing from direction degrees.
func Drift(lat, lon, speed, direction, dt float64) (float64, float64) {
	to := rad(math.Mod(direction+180, 360))
	dist := speed * dt
	return Offset(lat, lon, dist*math.Sin(to), dist*math.Cos(to))
}
