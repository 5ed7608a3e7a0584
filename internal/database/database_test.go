package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"storefront/internal/config"
)

func TestDialectorFor(t *testing.T) {
	d, err := dialectorFor(config.DatabaseConfig{Driver: config.DriverMySQL})
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	d, err = dialectorFor(config.DatabaseConfig{Driver: config.DriverPostgres})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = dialectorFor(config.DatabaseConfig{Driver: config.DriverMemory})
	assert.Error(t, err)
}

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, getLogLevel("silent"))
	assert.Equal(t, logger.Error, getLogLevel("error"))
	assert.Equal(t, logger.Info, getLogLevel("info"))
	assert.Equal(t, logger.Warn, getLogLevel("warn"))
	assert.Equal(t, logger.Warn, getLogLevel(""))
}

func TestHealth(t *testing.T) {
	assert.Error(t, Health(context.Background(), nil))

	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, Health(context.Background(), db))

	mock.ExpectPing().WillReturnError(assert.AnError)
	assert.ErrorIs(t, Health(context.Background(), db), assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAutoMigrate_NoModels(t *testing.T) {
	assert.NoError(t, AutoMigrate(nil))
}

func TestOpenWithRetry_GivesUp(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Driver = config.DriverMemory
	cfg.Startup.Retries = 2

	_, err := OpenWithRetry(context.Background(), cfg)
	assert.Error(t, err)
}
