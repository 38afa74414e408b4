package session

import (
	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/imaging"
	"github.com/banshee-data/raptorhab/internal/predict"
	"github.com/banshee-data/raptorhab/internal/protocol"
	"github.com/banshee-data/raptorhab/internal/telemetry"
)

// Observer receives session events. Callbacks run on the goroutine that fed
// the bytes, after the session lock has been released, so they may call back
// into the session. They must not block for long.
type Observer interface {
	OnTelemetry(flightID string, s telemetry.Sample)
	OnImage(flightID string, img *imaging.Image)
	OnImageProgress(flightID string, p imaging.Progress)
	OnText(flightID string, m Message)
	OnBurst(flightID string, ev flight.BurstEvent)
	OnPrediction(flightID string, p *predict.Prediction)
	OnModemStatus(flightID string, st protocol.ModemStatus)
	OnReset(oldFlightID, newFlightID string)
}

// NopObserver implements Observer with no-ops; embed it to implement only
// the callbacks of interest.
type NopObserver struct{}

func (NopObserver) OnTelemetry(string, telemetry.Sample)       {}
func (NopObserver) OnImage(string, *imaging.Image)             {}
func (NopObserver) OnImageProgress(string, imaging.Progress)   {}
func (NopObserver) OnText(string, Message)                     {}
func (NopObserver) OnBurst(string, flight.BurstEvent)          {}
func (NopObserver) OnPrediction(string, *predict.Prediction)   {}
func (NopObserver) OnModemStatus(string, protocol.ModemStatus) {}
func (NopObserver) OnReset(string, string)                     {}
