package cmd

import (
	"fmt"
	"log"

	"github.com/bryan-buckman/pricewatch/internal/config"
	"github.com/bryan-buckman/pricewatch/internal/database"
	"github.com/bryan-buckman/pricewatch/internal/notify"
	"github.com/bryan-buckman/pricewatch/internal/render"
	"github.com/bryan-buckman/pricewatch/internal/tracker"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured backend.
func openStore(cfg *config.Config) (database.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := database.NewPostgres(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return db, nil
	default:
		db, err := database.New(cfg.DatabasePath())
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil
	}
}

func workerConfig(cfg *config.Config) tracker.Config {
	return tracker.Config{
		BatchSize:            cfg.Worker.BatchSize,
		IdleEmpty:            cfg.IdleEmptyDuration(),
		IdleBusy:             cfg.IdleBusyDuration(),
		RenderTimeout:        cfg.RenderTimeoutDuration(),
		Concurrency:          cfg.Worker.Concurrency,
		PerSiteConcurrency:   cfg.Worker.PerSiteConcurrency,
		SiteDelay:            cfg.SiteDelayDuration(),
		DropThresholdPercent: cfg.Worker.DropThresholdPercent,
	}
}

func smtpConfig(cfg *config.Config) notify.SMTPConfig {
	return notify.SMTPConfig{
		Host: cfg.SMTP.Host,
		Port: cfg.SMTP.Port,
		User: cfg.SMTP.User,
		Pass: cfg.SMTP.Pass,
		From: cfg.FromAddr(),
		To:   cfg.ToAddr(),
	}
}

// rendererOptions caps the request timeout at the worker's per-item deadline
// so a render abandoned on that deadline does not keep fetching.
func rendererOptions(cfg *config.Config) render.Options {
	timeout := cfg.RendererTimeoutDuration()
	if deadline := cfg.RenderTimeoutDuration(); deadline < timeout {
		timeout = deadline
	}
	return render.Options{
		UserAgent: cfg.Renderer.UserAgent,
		Timeout:   timeout,
	}
}

// newWorker wires the renderer and notifier around store.
func newWorker(cfg *config.Config, store database.Store) *tracker.Worker {
	renderer := render.New(rendererOptions(cfg))
	notifier := notify.New(smtpConfig(cfg))
	log.Printf("Using %s database", store.DatabaseType())
	return tracker.NewWorker(store, renderer, notifier, workerConfig(cfg))
}
