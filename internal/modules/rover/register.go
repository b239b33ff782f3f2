package rover

import (
	"database/sql"
	"net/http"

	"tofyx-server/internal/config"
	"tofyx-server/internal/modules/rover/controller"
	"tofyx-server/internal/modules/rover/repository"
	"tofyx-server/internal/modules/rover/service"
	"tofyx-server/internal/modules/rover/sim"
)

// RegisterFeature wires the rover telemetry feature onto the mux. db may be
// nil when no store is configured; pub may be nil when publishing is off.
func RegisterFeature(mux *http.ServeMux, db *sql.DB, cfg config.Config, pub controller.SnapshotPublisher) {
	var repo repository.RoverRepository
	if db != nil {
		repo = repository.NewRepository(db)
	}
	svc := service.New(repo, cfg.StoreTimeout)
	synth := sim.New()
	controller.NewRoverController(cfg, svc, synth, pub).RegisterRoutes(mux)
}
