package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rpattn/changetrack/internal/changes"
	"github.com/rpattn/changetrack/internal/config"
	"github.com/rpattn/changetrack/internal/db"
	"github.com/rpattn/changetrack/internal/diff"
	"github.com/rpattn/changetrack/internal/i18n"
	"github.com/rpattn/changetrack/internal/logging"
	"github.com/rpattn/changetrack/internal/model"
	"github.com/rpattn/changetrack/internal/registry"
	"github.com/rpattn/changetrack/internal/repository"
	"github.com/rpattn/changetrack/internal/service"
)

// app is the wired process state shared by the commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	model    *model.Model
	registry *registry.Registry
	labels   *i18n.Bundle
	conn     *db.Connection
	service  *service.Service
}

// loadApp reads configuration, the model and the label bundle.
func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	m, err := model.LoadFile(cfg.Model.Path)
	if err != nil {
		return nil, err
	}
	labels := i18n.Default()
	if cfg.I18n.Path != "" {
		if labels, err = i18n.LoadFile(cfg.I18n.Path); err != nil {
			return nil, err
		}
	}
	reg := registry.Resolve(m, registry.Options{MaxPathDepth: cfg.Tracking.MaxPathDepth}, logger)
	return &app{cfg: cfg, logger: logger, model: m, registry: reg, labels: labels}, nil
}

// open connects the store and builds the entity service. With memory set the
// data lives in process and is lost on exit.
func (a *app) open(ctx context.Context, memory bool) error {
	var store repository.Store
	if memory {
		a.logger.Warn("using in-memory store, data is not persisted")
		store = repository.NewMemoryStore(a.model)
	} else {
		conn, err := db.NewConnection(ctx, a.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.conn = conn
		store = repository.NewPostgresStore(conn, a.model)
	}

	a.service = service.New(a.registry, store, changes.NewReader(a.registry, a.labels), service.Options{
		Tracking: diff.Options{
			DisableCreateTracking: a.cfg.Tracking.DisableCreateTracking,
			DisableUpdateTracking: a.cfg.Tracking.DisableUpdateTracking,
			DisableDeleteTracking: a.cfg.Tracking.DisableDeleteTracking,
		},
		PreserveDeletes:  a.cfg.Tracking.PreserveDeletes,
		ValidatePayloads: true,
	}, a.logger)
	return nil
}

func (a *app) close() {
	if a.conn != nil {
		a.conn.Close()
	}
}
