package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tofyx-server/internal/config"
	"tofyx-server/internal/db"
	"tofyx-server/internal/httpapi"
	"tofyx-server/internal/migrate"
	"tofyx-server/internal/modules/rover"
	"tofyx-server/internal/modules/rover/controller"
	"tofyx-server/internal/mqtt"
)

func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"storeConfigured", cfg.StoreConfigured(),
		"databaseName", cfg.DatabaseName,
		"storeTimeout", cfg.StoreTimeout,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
	)

	// The store is optional. Without DATABASE_URL the backend still serves
	// telemetry; session and query endpoints report the store unavailable.
	var dbConn *sql.DB
	if cfg.StoreConfigured() {
		var err error
		dbConn, err = db.Open(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := db.Close(dbConn); closeErr != nil {
				slog.Error("db close", "error", closeErr)
			}
		}()

		if err := migrate.Run(dbConn); err != nil {
			return err
		}
		slog.Info("telemetry store ready")
	} else {
		slog.Warn("DATABASE_URL not set, running without persistence")
	}

	var pub *mqtt.Publisher
	var snapshotPub controller.SnapshotPublisher
	if cfg.MQTTBroker != "" {
		pub = mqtt.NewPublisher(cfg)
		// Short timeout so startup is not blocked when the broker is down.
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err := pub.Connect(connectCtx)
		connectCancel()
		if err != nil {
			slog.Warn("mqtt connection failed (continuing without publishing)", "error", err)
		}
		snapshotPub = pub
	}

	mux := httpapi.NewMux()
	rover.RegisterFeature(mux, dbConn, cfg, snapshotPub)

	srv := httpapi.NewServer(cfg, mux)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if pub != nil {
		slog.Info("mqtt disconnecting")
		pub.Disconnect()
	}

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err := <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
