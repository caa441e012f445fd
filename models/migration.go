package models

import (
	"log"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

// AutoMigrate creates or alters every table owned by the sync service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&WorkOrder{}, &WorkOrderLabor{}, &WorkOrderPart{},
		&Issue{}, &IssueLabor{},
		&Checklist{}, &ChecklistVariable{},
		&SyncRun{}, &SyncError{},
	)
}
