package server

import (
	"fmt"
	"log/slog"

	"github.com/openjobspec/ojs-scheduler/internal/core"
	"github.com/openjobspec/ojs-scheduler/internal/memory"
	natsbackend "github.com/openjobspec/ojs-scheduler/internal/nats"
	"github.com/openjobspec/ojs-scheduler/internal/sqlite"
)

// Backend bundles the providers of one storage backend.
type Backend struct {
	Name   string
	Queue  core.QueueProvider
	Store  core.RecordStoreProvider
	Events core.EventPublisher
	Health core.HealthChecker

	close func() error
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenBackend connects the backend named by cfg.Backend.
func OpenBackend(cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case BackendNATS:
		nb, err := natsbackend.New(cfg.NatsURL, natsbackend.QueueOptions{
			Name:   cfg.QueueName,
			Lease:  cfg.Lease,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("connected to NATS", "url", cfg.NatsURL, "queue", cfg.QueueName)
		return &Backend{
			Name:   BackendNATS,
			Queue:  nb.Queue(),
			Store:  nb.Store(),
			Events: nb.Events(),
			Health: nb,
			close:  nb.Close,
		}, nil

	case BackendSQLite:
		db, err := sqlite.Open(sqlite.Config{Path: cfg.SQLitePath})
		if err != nil {
			return nil, err
		}
		logger.Info("opened SQLite database", "path", cfg.SQLitePath, "queue", cfg.QueueName)
		return &Backend{
			Name:   BackendSQLite,
			Queue:  db.Queue(cfg.QueueName),
			Store:  db.Store(),
			Events: core.NopPublisher{},
			Health: db,
			close:  db.Close,
		}, nil

	case BackendMemory:
		logger.Warn("using in-memory backend; jobs are lost on restart")
		q := memory.NewQueue(nil)
		return &Backend{
			Name:   BackendMemory,
			Queue:  q,
			Store:  memory.NewStore(),
			Events: core.NopPublisher{},
			Health: q,
		}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
