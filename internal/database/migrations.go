package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// ErrDirtySchema is returned when a previous history migration failed halfway
// and the schema needs manual repair before anything else is applied.
var ErrDirtySchema = errors.New("history schema is dirty")

// MigrationRunner applies the prediction history schema with golang-migrate.
type MigrationRunner struct {
	migrate *migrate.Migrate
	path    string
	files   []string
	log     *logrus.Entry
}

// historyMigrations lists the up migrations in dir, oldest first.
func historyMigrations(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("history migrations: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("history migrations: %s is not a directory", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return nil, fmt.Errorf("history migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("history migrations: no *.up.sql files in %s", dir)
	}
	for i, f := range files {
		files[i] = filepath.Base(f)
	}
	sort.Strings(files)
	return files, nil
}

// NewMigrationRunner opens the history migrations under migrationsPath against
// databaseURL, which must be a postgres:// URL.
func NewMigrationRunner(databaseURL, migrationsPath string, logger *logrus.Logger) (*MigrationRunner, error) {
	files, err := historyMigrations(migrationsPath)
	if err != nil {
		return nil, err
	}

	m, err := migrate.New("file://"+filepath.ToSlash(migrationsPath), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening history migrations at %s: %w", migrationsPath, err)
	}

	return &MigrationRunner{
		migrate: m,
		path:    migrationsPath,
		files:   files,
		log: logger.WithFields(logrus.Fields{
			"component":       "history",
			"migrations_path": migrationsPath,
		}),
	}, nil
}

// stopOnCancel asks golang-migrate to stop after the current file when ctx
// ends. The returned func releases the watcher and clears any stop request it
// left behind.
func (mr *MigrationRunner) stopOnCancel(ctx context.Context) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			select {
			case mr.migrate.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
		select {
		case <-mr.migrate.GracefulStop:
		default:
		}
	}
}

func (mr *MigrationRunner) checkClean() error {
	version, dirty, err := mr.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading history schema version: %w", err)
	}
	if dirty {
		mr.log.WithField("schema_version", version).Error("History schema is dirty, refusing to migrate")
		return fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	return nil
}

// Up applies every pending history migration.
func (mr *MigrationRunner) Up(ctx context.Context) error {
	if err := mr.checkClean(); err != nil {
		return err
	}
	mr.log.WithField("available", len(mr.files)).Info("Applying prediction history migrations")

	release := mr.stopOnCancel(ctx)
	err := mr.migrate.Up()
	release()
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mr.log.Debug("Prediction history schema already current")
			return nil
		}
		return fmt.Errorf("applying history migrations: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("applying history migrations: %w", err)
	}

	mr.logVersion("Prediction history schema migrated")
	return nil
}

// Down rolls the history schema back by one migration.
func (mr *MigrationRunner) Down(ctx context.Context) error {
	if err := mr.checkClean(); err != nil {
		return err
	}
	mr.log.Warn("Rolling back one prediction history migration")

	release := mr.stopOnCancel(ctx)
	err := mr.migrate.Steps(-1)
	release()
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist) {
			mr.log.Info("No prediction history migration to roll back")
			return nil
		}
		return fmt.Errorf("rolling back history migration: %w", err)
	}

	mr.logVersion("Prediction history migration rolled back")
	return nil
}

func (mr *MigrationRunner) logVersion(msg string) {
	version, dirty, err := mr.migrate.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		mr.log.WithField("schema_version", "none").Info(msg)
	case err != nil:
		mr.log.WithError(err).Warn("Could not read history schema version")
	default:
		mr.log.WithFields(logrus.Fields{
			"schema_version": version,
			"dirty":          dirty,
		}).Info(msg)
	}
}

// Version returns the applied history schema version.
func (mr *MigrationRunner) Version() (uint, bool, error) {
	return mr.migrate.Version()
}

// Close releases the migration source and database handles.
func (mr *MigrationRunner) Close() error {
	sourceErr, dbErr := mr.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("closing history migrations at %s: %w", mr.path, sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing history migration database: %w", dbErr)
	}
	return nil
}

// Migrate brings the prediction history schema up to date and closes the
// runner.
func Migrate(ctx context.Context, databaseURL, migrationsPath string, logger *logrus.Logger) error {
	runner, err := NewMigrationRunner(databaseURL, migrationsPath, logger)
	if err != nil {
		return err
	}
	upErr := runner.Up(ctx)
	closeErr := runner.Close()
	if upErr != nil {
		return upErr
	}
	return closeErr
}
