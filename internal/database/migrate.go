package database

import (
	"fmt"

	"gorm.io/gorm"

	"storefront/pkg/log"
)

// AutoMigrate creates or updates the tables of models, in order. Orders must
// precede their items for the foreign key.
func AutoMigrate(db *gorm.DB, models ...interface{}) error {
	if len(models) == 0 {
		return nil
	}

	for _, model := range models {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
		log.WithField("model", fmt.Sprintf("%T", model)).Debug("Migrated model")
	}

	log.WithField("models", len(models)).Info("Database migration completed")
	return nil
}
