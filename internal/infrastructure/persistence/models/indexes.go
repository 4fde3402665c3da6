package models

import (
	"fmt"

	"gorm.io/gorm"
)

// PartialIndexes are the partial unique indexes AutoMigrate cannot declare from struct tags.
// The versioned migrations create the same indexes.
var PartialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_subscription_addons_active
		ON subscription_addons (subscription_id, addon_type) WHERE is_active`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_packages_source_ref
		ON credit_packages (account_id, credit_type, source_ref) WHERE source_ref <> ''`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_packages_active_grant
		ON credit_packages (account_id, credit_type) WHERE source = 'subscription_grant' AND status = 'active'`,
}

// CreatePartialIndexes creates PartialIndexes on a database set up with AutoMigrate
func CreatePartialIndexes(db *gorm.DB) error {
	for _, stmt := range PartialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create partial index: %w", err)
		}
	}
	return nil
}
