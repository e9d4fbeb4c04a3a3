package main

import (
	"log"
	"net/http"

	"github.com/kdimtricp/slugsei/internal/api"
	"github.com/kdimtricp/slugsei/internal/coach"
	"github.com/kdimtricp/slugsei/internal/config"
	"github.com/kdimtricp/slugsei/internal/logger"
	"github.com/kdimtricp/slugsei/internal/session"
	"github.com/kdimtricp/slugsei/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	appLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	defer appLogger.Sync()

	localStorage, err := storage.NewLocalStorage(cfg.App.UploadDir)
	if err != nil {
		log.Fatal("Failed to initialize storage:", err)
	}

	client := coach.NewClient(coach.Config{
		BaseURL:            cfg.Service.BaseURL,
		Timeout:            cfg.Service.RequestTimeout,
		BreakerMaxFailures: cfg.Service.BreakerMaxFailures,
		RequestsPerSecond:  cfg.Service.RequestsPerSecond,
		Logger:             appLogger,
	})

	machine := session.New(client, localStorage, session.Options{
		Greeting: cfg.Session.Greeting,
		Logger:   appLogger,
	})

	app := &api.App{
		Machine:       machine,
		Storage:       localStorage,
		Logger:        appLogger,
		MaxUploadSize: cfg.App.MaxUploadSize,
	}

	router := api.NewRouter(app)

	appLogger.Info("server", "Server starting", map[string]interface{}{
		"port":            cfg.App.Port,
		"upload_dir":      cfg.App.UploadDir,
		"coach_service":   cfg.Service.BaseURL,
		"max_upload_size": cfg.App.MaxUploadSize,
		"environment":     cfg.App.Environment,
	})

	if err := http.ListenAndServe(":"+cfg.App.Port, router); err != nil {
		appLogger.Error("server", "Server stopped", map[string]interface{}{"error": err})
		log.Fatal(err)
	}
}
