package types

import "time"

// Environment groups the simulated environmental sensors.
type Environment struct {
	AmbientTempC float64 `json:"ambient_temp_c"`
	SurfaceTempC float64 `json:"surface_temp_c"`
	UVIndex      float64 `json:"uv_index"`
	IRMwM2       float64 `json:"ir_mw_m2"`
	LightLux     float64 `json:"light_lux"`
}

type Power struct {
	BatteryPct     float64 `json:"battery_pct"`
	BatteryVoltage float64 `json:"battery_voltage"`
}

type Attitude struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
}

type Navigation struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	SpeedMps float64 `json:"speed_mps"`
	Heading  float64 `json:"heading"`
}

type Solar struct {
	TargetAzimuth float64 `json:"target_azimuth"`
	PanelAzimuth  float64 `json:"panel_azimuth"`
	LightLux      float64 `json:"light_lux"`
}

type Camouflage struct {
	ColorHSL string `json:"color_hsl"`
}

// Snapshot is one synthesized telemetry reading. Immutable once produced.
type Snapshot struct {
	Timestamp   string      `json:"timestamp"`
	Environment Environment `json:"environment"`
	Power       Power       `json:"power"`
	Attitude    Attitude    `json:"attitude"`
	Navigation  Navigation  `json:"navigation"`
	Solar       Solar       `json:"solar"`
	Camouflage  Camouflage  `json:"camouflage"`
	DangerLevel string      `json:"danger_level"`
}

// Image is the camera frame placeholder returned by /api/image and embedded
// in the /api/telemetry response.
type Image struct {
	URL string `json:"url"`
}

// Session is a recording window. At most one session is active at a time.
type Session struct {
	ID        string     `json:"id"`
	Active    bool       `json:"active"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Note      string     `json:"note"`
}

// StoredRow is one persisted telemetry document as it comes back from the
// store: the raw snapshot JSON plus the store-assigned id and created_at.
type StoredRow struct {
	ID        int64
	CreatedAt time.Time
	Payload   []byte
}

// StoredSnapshot is the history wire shape: the snapshot fields flattened
// alongside the document id (serialized as a string) and created_at.
type StoredSnapshot struct {
	Snapshot
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// FieldSummary holds min/max/avg for one tracked metric. Nil values mean the
// window held no parseable samples for that field.
type FieldSummary struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
	Avg *float64 `json:"avg"`
}
