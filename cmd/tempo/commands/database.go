package commands

import (
	"context"
	"database/sql"

	"github.com/teranos/tempo/am"
	"github.com/teranos/tempo/db"
	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/logger"
	"github.com/teranos/tempo/pulse/handlers"
	"github.com/teranos/tempo/pulse/job"
)

// ConfigPath is set by --config. Empty means the merged search path.
var ConfigPath string

// LoadConfig loads and validates the configuration.
func LoadConfig() (*am.Config, error) {
	var (
		cfg *am.Config
		err error
	)
	if ConfigPath != "" {
		cfg, err = am.LoadFromFile(ConfigPath)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// openDatabase opens and migrates the configured database.
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	path := cfg.Database.Path
	if path == "" {
		path = "tempo.db"
	}
	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, nil
}

// sqliteToken is the repository token the SQLite stores register under.
const sqliteToken = "sqlite"

// store bundles the SQLite repositories every command works with.
type store struct {
	db         *sql.DB
	handlers   *job.HandlerRegistry[handlers.Output]
	jobs       *job.Store[handlers.Output]
	executions *job.ExecutionStore[handlers.Output]
	registry   *job.Registry[handlers.Output]
}

func openStore(ctx context.Context, cfg *am.Config) (*store, error) {
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	s := &store{
		db:       database,
		handlers: job.NewHandlerRegistry[handlers.Output](nil),
		registry: job.NewRegistry[handlers.Output](),
	}
	handlers.Register(s.handlers, nil, logger.Logger)
	s.jobs = job.NewStore(database, s.handlers)
	s.executions = job.NewExecutionStore[handlers.Output](database)

	if err := s.registry.RegisterRepository(sqliteToken, s.jobs); err != nil {
		database.Close()
		return nil, err
	}
	if err := s.registry.RegisterExecutionRepository(sqliteToken, s.executions); err != nil {
		database.Close()
		return nil, err
	}
	if err := s.registry.Open(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return s, nil
}

func (s *store) Close() error {
	regErr := s.registry.Close()
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "failed to close database")
	}
	return regErr
}
