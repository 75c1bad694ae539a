package models

import (
	"time"
)

// WorkerHeartbeat is upserted on every heartbeat call, uniquely keyed by
// (worker_type, worker_instance_id). Counters are cumulative, never reset.
type WorkerHeartbeat struct {
	ID               uint64 `gorm:"primaryKey;autoIncrement"`
	WorkerType       string `gorm:"type:varchar(50);not null;uniqueIndex:idx_worker_instance"`
	WorkerInstanceID string `gorm:"type:varchar(100);not null;uniqueIndex:idx_worker_instance"`

	Status        string    `gorm:"type:varchar(16);not null"`
	LastHeartbeat time.Time `gorm:"type:timestamptz;not null;index"`

	MessagesProcessed int64 `gorm:"not null;default:0"`
	MessagesFailed    int64 `gorm:"not null;default:0"`
	CurrentQueueSize  *int  `gorm:""`

	LastError         *string    `gorm:"type:text"`
	LastErrorAt       *time.Time `gorm:"type:timestamptz"`
	ConsecutiveErrors int        `gorm:"not null;default:0"`

	Hostname *string `gorm:"type:varchar(200)"`
	PID      *int    `gorm:""`

	StartedAt time.Time `gorm:"type:timestamptz;not null"`
}

func (WorkerHeartbeat) TableName() string {
	return "worker_heartbeats"
}
