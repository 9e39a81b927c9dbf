package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("storage: not found")

type Store struct {
	open   gorm.Dialector
	db     *gorm.DB
	logger logger.Interface
}

func New(dbType, dbConn string, debug bool) (*Store, error) {
	var open gorm.Dialector
	switch dbType {
	case "postgres":
		open = postgres.Open(dbConn)
	case "mysql":
		open = mysql.Open(dbConn)
	case "sqlite", "":
		open = sqlite.Open(dbConn)
	default:
		return nil, fmt.Errorf("storage: unknown db type: %s", dbType)
	}
	l := logger.Default.LogMode(logger.Silent)
	if debug {
		l = logger.Default.LogMode(logger.Warn)
	}
	return &Store{
		open:   open,
		logger: l,
	}, nil
}

func (s *Store) Start(ctx context.Context) error {
	// Launch the database connection in a goroutine so we can timeout if it
	// takes too long.
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	errC := make(chan error, 1)
	go func() {
		db, err := gorm.Open(s.open, &gorm.Config{
			Logger: s.logger,
		})
		if err != nil {
			errC <- fmt.Errorf("storage: failed to open database: %w", err)
			return
		}
		s.db = db
		errC <- nil
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("storage: timed out opening database: %w", ctx.Err())
		}
		return ctx.Err()
	case err := <-errC:
		if err != nil {
			return err
		}
	}
	return nil
}

// schemaVersion is bumped with every change that AutoMigrate can't handle.
const schemaVersion = 1

// Migrate creates or updates the tables and records the schema version.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(
		&Migration{},
		&Song{},
		&Generation{},
	); err != nil {
		return fmt.Errorf("storage: failed to migrate database: %w", err)
	}

	var migration Migration
	err := db.First(&migration).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		migration = Migration{ID: ulid.Make().String()}
	case err != nil:
		return fmt.Errorf("storage: failed to get migration version: %w", err)
	}
	if migration.Version == schemaVersion {
		return nil
	}
	log.Printf("storage: schema version %d -> %d\n", migration.Version, schemaVersion)
	migration.Version = schemaVersion
	if err := db.Save(&migration).Error; err != nil {
		return fmt.Errorf("storage: failed to save migration version: %w", err)
	}
	return nil
}

// Version returns the recorded schema version.
func (s *Store) Version(ctx context.Context) (int, error) {
	var migration Migration
	if err := s.db.WithContext(ctx).First(&migration).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("storage: failed to get migration version: %w", err)
	}
	return migration.Version, nil
}

func (s *Store) Stop(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	db, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("storage: couldn't get database: %w", err)
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("storage: couldn't close database: %w", err)
	}
	return nil
}

type Filter struct {
	Query interface{}
	Args  []interface{}
}

func Where(query interface{}, args ...interface{}) Filter {
	return Filter{
		Query: query,
		Args:  args,
	}
}
