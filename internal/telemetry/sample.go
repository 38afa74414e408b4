// Package telemetry holds the decoded telemetry record and the bounded
// per-flight history it is appended to.
package telemetry

import (
	"time"

	"github.com/banshee-data/raptorhab/internal/protocol"
)

// DefaultHistoryCapacity is the number of samples kept per flight.
const DefaultHistoryCapacity = 500

// Sample is one telemetry record as seen by the ground station. It is never
// modified after it has been appended to a History.
type Sample struct {
	Timestamp time.Time `json:"timestamp"` // ground receive time
	Sequence  uint16    `json:"sequence"`

	// Signal quality measured by the ground modem.
	RSSI float64 `json:"rssi"`
	SNR  float64 `json:"snr"`

	Latitude   float64          `json:"latitude"`
	Longitude  float64          `json:"longitude"`
	Altitude   float64          `json:"altitude"`
	Speed      float64          `json:"speed"`
	Heading    float64          `json:"heading"`
	Satellites uint8            `json:"satellites"`
	FixType    protocol.FixType `json:"fix_type"`
	GPSTime    uint32           `json:"gps_time"`

	BatteryMV     uint16  `json:"battery_mv"`
	CPUTemp       float64 `json:"cpu_temp"`
	RadioTemp     float64 `json:"radio_temp"`
	ImageID       uint16  `json:"image_id"`
	ImageProgress uint8   `json:"image_progress"`
	PayloadRSSI   int8    `json:"payload_rssi"`

	// VerticalSpeed is filled in by the phase estimator when the sample is
	// ingested, in m/s.
	VerticalSpeed float64 `json:"vertical_speed"`
}

// FromPayload builds a sample from a decoded telemetry body and the frame
// it arrived in.
func FromPayload(t *protocol.Telemetry, seq uint16, rssi, snr float64, received time.Time) Sample {
	return Sample{
		Timestamp:     received,
		Sequence:      seq,
		RSSI:          rssi,
		SNR:           snr,
		Latitude:      t.Latitude,
		Longitude:     t.Longitude,
		Altitude:      t.Altitude,
		Speed:         t.Speed,
		Heading:       t.Heading,
		Satellites:    t.Satellites,
		FixType:       t.FixType,
		GPSTime:       t.GPSTime,
		BatteryMV:     t.BatteryMV,
		CPUTemp:       t.CPUTemp,
		RadioTemp:     t.RadioTemp,
		ImageID:       t.ImageID,
		ImageProgress: t.ImageProgress,
		PayloadRSSI:   t.RSSI,
	}
}

// HasFix reports whether the sample carries a usable position.
func (s Sample) HasFix() bool {
	return (s.Latitude != 0 || s.Longitude != 0) && s.Satellites > 0
}

// BatteryVolts returns the battery voltage in volts.
func (s Sample) BatteryVolts() float64 {
	return float64(s.BatteryMV) / 1000
}
