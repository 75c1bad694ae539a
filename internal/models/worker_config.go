package models

import (
	"time"
)

// WorkerConfig holds one row per pipeline stage. Mutated only via the admin
// API; workers read Enabled back from every heartbeat to self-pause.
type WorkerConfig struct {
	WorkerType string `gorm:"primaryKey;type:varchar(50)"`
	Enabled    bool   `gorm:"not null;default:true"`

	PollIntervalMs *int    `gorm:""`
	CronExpression *string `gorm:"type:varchar(100)"`
	InputQueue     *string `gorm:"type:varchar(100)"`
	OutputQueue    *string `gorm:"type:varchar(100)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (WorkerConfig) TableName() string {
	return "worker_configs"
}
