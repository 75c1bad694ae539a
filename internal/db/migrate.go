package db

import (
	"predmarket/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	if err := db.Gorm.AutoMigrate(
		&models.Proposal{},
		&models.Market{},
		&models.Resolution{},
		&models.Dispute{},
		&models.WorkerConfig{},
		&models.WorkerHeartbeat{},
		&models.PipelineSetting{},
		&models.AuditLog{},
	); err != nil {
		return err
	}

	return nil
}
