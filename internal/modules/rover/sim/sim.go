// Package sim synthesizes rover telemetry: smooth periodic drift around a
// base value plus bounded random jitter, derived from wall-clock time.
package sim

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"tofyx-server/internal/modules/rover/types"
)

// Base coordinate the simulated rover drifts around (Ljubljana).
const (
	baseLat = 46.0569
	baseLon = 14.5058
)

// Synthesizer produces telemetry snapshots. The clock and random source are
// injected so tests can pin both.
type Synthesizer struct {
	start time.Time
	now   func() time.Time
	rng   *rand.Rand
}

// New returns a Synthesizer anchored at the current wall-clock time.
func New() *Synthesizer {
	return NewWithClock(time.Now, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithClock returns a Synthesizer using the given clock and random
// source. Elapsed time is measured from the first value of now().
func NewWithClock(now func() time.Time, rng *rand.Rand) *Synthesizer {
	return &Synthesizer{start: now(), now: now, rng: rng}
}

// simValue models one drifting sensor: base + amp*sin(elapsed*speed) plus
// uniform jitter in [-noise, noise).
func (s *Synthesizer) simValue(base, amp, speed, noise float64) float64 {
	elapsed := s.now().Sub(s.start).Seconds()
	return base + amp*math.Sin(elapsed*speed) + (s.rng.Float64()*2-1)*noise
}

// Snapshot synthesizes one telemetry reading at the current clock time.
func (s *Synthesizer) Snapshot() types.Snapshot {
	now := s.now().UTC()
	unixSec := float64(now.UnixNano()) / float64(time.Second)

	ambient := round2(s.simValue(22.0, 6.0, 0.06, 0.5))
	surface := round2(ambient + s.simValue(5.0, 3.0, 0.08, 0.3))
	uv := round2(math.Max(0, s.simValue(4.0, 3.0, 0.05, 0.4)))
	ir := round2(math.Max(0, s.simValue(250.0, 120.0, 0.03, 5.0)))
	lux := round2(math.Max(0, s.simValue(20000.0, 15000.0, 0.04, 500.0)))

	batteryPct := round1(clamp(0, 100, s.simValue(78.0, 8.0, 0.01, 1.0)))
	batteryVoltage := round2(3.0 + batteryPct/100.0*1.2)

	// Rounding can push a value just under 360 up to 360.00; re-mod keeps
	// headings in [0, 360).
	yaw := math.Mod(round2(math.Mod(unixSec*12, 360)), 360)
	sunDir := math.Mod(unixSec*6, 360)

	return types.Snapshot{
		Timestamp: now.Format(time.RFC3339Nano),
		Environment: types.Environment{
			AmbientTempC: ambient,
			SurfaceTempC: surface,
			UVIndex:      uv,
			IRMwM2:       ir,
			LightLux:     lux,
		},
		Power: types.Power{
			BatteryPct:     batteryPct,
			BatteryVoltage: batteryVoltage,
		},
		Attitude: types.Attitude{
			Pitch: round2(s.simValue(2.0, 10.0, 0.02, 0.8)),
			Roll:  round2(s.simValue(1.0, 12.0, 0.018, 0.8)),
			Yaw:   yaw,
		},
		Navigation: types.Navigation{
			Lat:      round6(baseLat + s.simValue(0, 0.0008, 0.002, 0.0001)),
			Lon:      round6(baseLon + s.simValue(0, 0.0008, 0.002, 0.0001)),
			SpeedMps: round2(math.Max(0, s.simValue(0.8, 0.6, 0.07, 0.2))),
			Heading:  yaw,
		},
		Solar: types.Solar{
			TargetAzimuth: math.Mod(round2(sunDir), 360),
			PanelAzimuth:  round2(sunDir + s.simValue(0, 5.0, 0.2, 1.5)),
			LightLux:      lux,
		},
		Camouflage: types.Camouflage{
			ColorHSL: CamouflageColor(surface),
		},
		DangerLevel: DangerLevel(uv, surface),
	}
}

// CamouflageColor maps surface temperature to an HSL color: 10°C..60°C maps
// hue 220 (cool blue) down to 0 (hot red), clamped at both ends.
func CamouflageColor(surfaceTempC float64) string {
	hue := int(clamp(0, 220, math.Round(220-(surfaceTempC-10)*(220.0/50.0))))
	return fmt.Sprintf("hsl(%d, 70%%, 55%%)", hue)
}

// DangerLevel classifies conditions; the high check takes precedence.
func DangerLevel(uvIndex, surfaceTempC float64) string {
	switch {
	case uvIndex > 7 || surfaceTempC > 50:
		return "high"
	case uvIndex > 5 || surfaceTempC > 40:
		return "medium"
	default:
		return "low"
	}
}

func clamp(lo, hi, v float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
