package db

import (
	"sync"

	_ "github.com/jackc/pgx/v4"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/pkg/env"
	"github.com/pipewright/pipewright/pkg/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	conn     *gorm.DB
	connOnce sync.Once
)

// Connection returns the shared database handle, opening it
// on first use based on the configured database type.
func Connection() *gorm.DB {
	connOnce.Do(func() {
		var err error

		switch env.Variables().DatabaseType {
		case "postgres":
			conn, err = gorm.Open(
				postgres.Open(env.Variables().DatabaseDSN),
				&gorm.Config{},
			)
		case "sqlite":
			fallthrough
		default:
			conn, err = gorm.Open(
				sqlite.Open(env.Variables().DatabaseDSN),
				&gorm.Config{},
			)
		}

		if err != nil {
			log.Fatal("failed to connect to database", "error", err)
		}
	})

	return conn
}

// Migrate applies the schema for all registered models.
func Migrate() error {
	return Connection().AutoMigrate(models.All...)
}
