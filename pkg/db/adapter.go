package db

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/profilerelay/relayer/config"
	"github.com/profilerelay/relayer/pkg/db/models"
)

// DatabaseAdapter owns the durable quota, delegation and relay transaction
// state. All multi-row invariants are enforced here, inside gorm
// transactions, never in the request handlers.
type DatabaseAdapter struct {
	PostgresClient          *gorm.DB
	DefaultMonthlyAllowance uint64
}

func NewDatabaseAdapter(cfg *config.Config) (*DatabaseAdapter, error) {
	if cfg == nil || cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is not set")
	}

	client, err := NewPostgresClient(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	return &DatabaseAdapter{
		PostgresClient:          client,
		DefaultMonthlyAllowance: cfg.Quota.DefaultMonthlyAllowance,
	}, nil
}

func NewPostgresClient(url string) (*gorm.DB, error) {
	// TranslateError maps unique violations to gorm.ErrDuplicatedKey, which
	// the transaction ledger relies on for replay detection.
	db, err := gorm.Open(postgres.Open(url), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	err = db.AutoMigrate(
		&models.Quota{},
		&models.Delegation{},
		&models.RelayTransaction{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	log.Info().Msg("[DatabaseAdapter] connected to postgres")
	return db, nil
}

func (db *DatabaseAdapter) Close() {
	sqlDB, err := db.PostgresClient.DB()
	if err == nil {
		sqlDB.Close()
	}
}
