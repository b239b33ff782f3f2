package controller

import (
	"net/http"

	"tofyx-server/internal/config"
	"tofyx-server/internal/modules/rover/service"
	"tofyx-server/internal/modules/rover/sim"
	"tofyx-server/internal/modules/rover/types"
)

// Placeholder camera frame; there is no real camera.
const imageURL = "https://images.unsplash.com/photo-1462331940025-496dfbfc7564?q=80&w=1600&auto=format&fit=crop"

// SnapshotPublisher pushes a snapshot to an external broker, best-effort.
type SnapshotPublisher interface {
	PublishSnapshot(snap types.Snapshot)
}

type RoverController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type roverControllerImpl struct {
	cfg   config.Config
	svc   *service.Service
	synth *sim.Synthesizer
	pub   SnapshotPublisher // nil when MQTT publishing is disabled
}

func NewRoverController(cfg config.Config, svc *service.Service, synth *sim.Synthesizer, pub SnapshotPublisher) RoverController {
	return &roverControllerImpl{cfg: cfg, svc: svc, synth: synth, pub: pub}
}

func (c *roverControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/telemetry", c.handleTelemetry)
	mux.HandleFunc("GET /api/image", c.handleImage)
	mux.HandleFunc("POST /api/session/start", c.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", c.handleSessionStop)
	mux.HandleFunc("GET /api/telemetry/history", c.handleHistory)
	mux.HandleFunc("GET /api/export/csv", c.handleExportCSV)
	mux.HandleFunc("GET /api/metrics/summary", c.handleSummary)
	mux.HandleFunc("GET /test", c.handleStoreDiagnostic)
}
