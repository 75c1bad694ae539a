package models

import (
	"time"

	"gorm.io/datatypes"
)

// PipelineSetting stores tunable pipeline parameters in DB as flat key/value
// rows, merged over compiled-in defaults by the config cache.
type PipelineSetting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Key string `gorm:"type:varchar(120);not null;uniqueIndex"`

	// JSON value, e.g. a scalar for thresholds or an object for rate limits.
	Value datatypes.JSON `gorm:"type:jsonb;not null"`

	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (PipelineSetting) TableName() string {
	return "pipeline_settings"
}
