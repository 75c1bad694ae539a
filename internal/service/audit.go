package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"gorm.io/datatypes"

	"predmarket/internal/models"
)

// Publisher is the narrow broker surface services depend on. A nil Publisher
// means the broker is not configured; callers skip enqueueing and log.
type Publisher interface {
	Publish(ctx context.Context, queue string, v any) (bool, error)
}

func newAudit(actor, action, entityType string, entityID uint64, details map[string]any) *models.AuditLog {
	raw, _ := json.Marshal(details)
	return &models.AuditLog{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   strconv.FormatUint(entityID, 10),
		Details:    datatypes.JSON(raw),
		CreatedAt:  time.Now().UTC(),
	}
}
