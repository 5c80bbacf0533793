package main

import (
	"context"
	"net/http"

	"tunetrivia/internal/store"
	"tunetrivia/shared/go/logging"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logging.Fatal(err, "load config")
	}

	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	logging.SetGlobalLogger(logger)

	ctx := context.Background()

	db, err := openDatabase(ctx, cfg.DatabaseURL, cfg.DBConnectTimeout)
	if err != nil {
		logger.Fatal(err, "open database")
	}
	defer db.Close()

	if len(cfg.AIAPIKeys) == 0 {
		logger.Warn("AI_API_KEYS is empty, every round will use the fallback challenge")
	}

	dataStore := store.New(db)

	handler, manager := newHTTPHandler(cfg, dataStore)
	go manager.SweepLoop(ctx, cfg.SessionSweepInterval, cfg.SessionMaxIdle)

	logger.Info("API available at http://localhost" + cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		logger.Fatal(err, "server error")
	}
}
