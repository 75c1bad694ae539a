package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"predmarket/internal/broker"
	"predmarket/internal/lifecycle"
	"predmarket/internal/models"
	"predmarket/internal/repository"
)

const recentWindow = 5 * time.Minute

// WorkerTypes is the fixed set of pipeline stages, in pipeline order.
var WorkerTypes = []string{
	"drafter",
	"validator",
	"publisher",
	"resolver",
	"disputes",
}

// HeartbeatService ingests worker heartbeats and aggregates per-stage health.
type HeartbeatService struct {
	Repo   repository.Repository
	Logger *zap.Logger
	Now    func() time.Time
}

func (s *HeartbeatService) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// HeartbeatRequest carries one report from a worker instance. Processed and
// Failed are deltas since the previous report; the storage layer accumulates
// them into the cumulative counters.
type HeartbeatRequest struct {
	InstanceID       string     `json:"instance_id"`
	Status           string     `json:"status"`
	Processed        int64      `json:"messages_processed"`
	Failed           int64      `json:"messages_failed"`
	CurrentQueueSize *int       `json:"current_queue_size,omitempty"`
	LastError        *string    `json:"last_error,omitempty"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty"`
	Hostname         *string    `json:"hostname,omitempty"`
	PID              *int       `json:"pid,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
}

// HeartbeatAck tells the reporting worker whether its stage is enabled;
// workers self-pause on false.
type HeartbeatAck struct {
	Enabled bool `json:"enabled"`
}

// Record upserts the instance row keyed by (worker_type, instance_id).
// Counter increments happen atomically in storage so concurrent instances
// never lose updates.
func (s *HeartbeatService) Record(ctx context.Context, workerType string, req HeartbeatRequest) (HeartbeatAck, error) {
	if s == nil || s.Repo == nil {
		return HeartbeatAck{Enabled: true}, nil
	}
	workerType = strings.TrimSpace(workerType)
	if workerType == "" {
		return HeartbeatAck{}, Validationf("worker type is required")
	}
	if strings.TrimSpace(req.InstanceID) == "" {
		return HeartbeatAck{}, Validationf("instance_id is required")
	}
	status := lifecycle.WorkerStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		return HeartbeatAck{}, Validationf("status %q is not a recognized worker status", req.Status)
	}

	now := s.now()
	item := &models.WorkerHeartbeat{
		WorkerType:       workerType,
		WorkerInstanceID: strings.TrimSpace(req.InstanceID),
		Status:           string(status),
		LastHeartbeat:    now,
		CurrentQueueSize: req.CurrentQueueSize,
		LastError:        req.LastError,
		LastErrorAt:      req.LastErrorAt,
		Hostname:         req.Hostname,
		PID:              req.PID,
		StartedAt:        now,
	}
	if req.StartedAt != nil {
		item.StartedAt = *req.StartedAt
	}
	if req.LastError != nil && req.LastErrorAt == nil {
		item.LastErrorAt = &now
	}
	delta := repository.HeartbeatDelta{
		Processed: req.Processed,
		Failed:    req.Failed,
		IsError:   status == lifecycle.WorkerError,
	}
	if err := s.Repo.UpsertWorkerHeartbeat(ctx, item, delta); err != nil {
		return HeartbeatAck{}, err
	}

	enabled := true
	cfg, err := s.Repo.GetWorkerConfigByType(ctx, workerType)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("worker config lookup failed, defaulting to enabled",
				zap.String("worker_type", workerType),
				zap.Error(err),
			)
		}
	} else if cfg != nil {
		enabled = cfg.Enabled
	}
	return HeartbeatAck{Enabled: enabled}, nil
}

// StageHealth is one row of the health overview. A disabled stage is healthy
// by definition; an enabled stage needs at least one active instance inside
// the trailing five-minute window.
type StageHealth struct {
	WorkerType      string `json:"worker_type"`
	Enabled         bool   `json:"enabled"`
	RecentInstances int    `json:"recent_instances"`
	ActiveInstances int    `json:"active_instances"`
	Healthy         bool   `json:"healthy"`
	Reason          string `json:"reason"`
}

func (s *HeartbeatService) Overview(ctx context.Context) ([]StageHealth, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	configs, err := s.Repo.ListWorkerConfigs(ctx)
	if err != nil {
		return nil, err
	}
	enabledByType := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		enabledByType[cfg.WorkerType] = cfg.Enabled
	}

	since := s.now().Add(-recentWindow)
	beats, err := s.Repo.ListWorkerHeartbeats(ctx, repository.ListHeartbeatsParams{Since: &since})
	if err != nil {
		return nil, err
	}
	recent := make(map[string]int)
	active := make(map[string]int)
	for _, hb := range beats {
		recent[hb.WorkerType]++
		if lifecycle.WorkerStatus(hb.Status).Active() {
			active[hb.WorkerType]++
		}
	}

	out := make([]StageHealth, 0, len(WorkerTypes))
	for _, workerType := range WorkerTypes {
		enabled, ok := enabledByType[workerType]
		if !ok {
			enabled = true
		}
		row := StageHealth{
			WorkerType:      workerType,
			Enabled:         enabled,
			RecentInstances: recent[workerType],
			ActiveInstances: active[workerType],
		}
		switch {
		case !enabled:
			row.Healthy = true
			row.Reason = "disabled"
		default:
			row.Healthy = row.ActiveInstances >= 1
			row.Reason = "active_instances"
		}
		out = append(out, row)
	}
	return out, nil
}

// StageDetail adds per-instance rows and 24-hour throughput to one stage.
type StageDetail struct {
	StageHealth
	Instances   []models.WorkerHeartbeat `json:"instances"`
	Processed24 int64                    `json:"processed_24h"`
	Failed24    int64                    `json:"failed_24h"`
	SuccessRate string                   `json:"success_rate"`
}

func (s *HeartbeatService) Detail(ctx context.Context, workerType string) (*StageDetail, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	workerType = strings.TrimSpace(workerType)
	cfg, err := s.Repo.GetWorkerConfigByType(ctx, workerType)
	if err != nil {
		return nil, err
	}
	known := cfg != nil
	if !known {
		for _, wt := range WorkerTypes {
			if wt == workerType {
				known = true
				break
			}
		}
	}
	if !known {
		return nil, NotFoundf("worker type %q not found", workerType)
	}

	now := s.now()
	instances, err := s.Repo.ListWorkerHeartbeats(ctx, repository.ListHeartbeatsParams{WorkerType: &workerType})
	if err != nil {
		return nil, err
	}
	since := now.Add(-recentWindow)
	recent, activeCount := 0, 0
	for _, hb := range instances {
		if hb.LastHeartbeat.Before(since) {
			continue
		}
		recent++
		if lifecycle.WorkerStatus(hb.Status).Active() {
			activeCount++
		}
	}
	processed, failed, err := s.Repo.SumHeartbeatCounters(ctx, workerType, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	detail := &StageDetail{
		StageHealth: StageHealth{
			WorkerType:      workerType,
			Enabled:         cfg == nil || cfg.Enabled,
			RecentInstances: recent,
			ActiveInstances: activeCount,
		},
		Instances:   instances,
		Processed24: processed,
		Failed24:    failed,
		SuccessRate: "N/A",
	}
	if !detail.Enabled {
		detail.Healthy = true
		detail.Reason = "disabled"
	} else {
		detail.Healthy = activeCount >= 1
		detail.Reason = "active_instances"
	}
	if processed > 0 {
		detail.SuccessRate = fmt.Sprintf("%.2f%%", float64(processed-failed)/float64(processed)*100)
	}
	return detail, nil
}

// SetEnabled flips a stage on or off. The mutation is audited and takes
// effect on the workers' next heartbeat ack.
func (s *HeartbeatService) SetEnabled(ctx context.Context, workerType string, enabled bool, actor string) (*models.WorkerConfig, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	workerType = strings.TrimSpace(workerType)
	rows, err := s.Repo.SetWorkerEnabled(ctx, workerType, enabled)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, NotFoundf("worker type %q not found", workerType)
	}
	if err := s.Repo.InsertAuditLog(ctx, newAudit(actor, "worker.set_enabled", "worker_config", 0, map[string]any{
		"worker_type": workerType,
		"enabled":     enabled,
	})); err != nil && s.Logger != nil {
		s.Logger.Warn("audit write failed", zap.String("worker_type", workerType), zap.Error(err))
	}
	return s.Repo.GetWorkerConfigByType(ctx, workerType)
}

// EnsureDefaultConfigs seeds one enabled row per pipeline stage so the admin
// API always has something to toggle. Existing rows are left untouched.
func (s *HeartbeatService) EnsureDefaultConfigs(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	queues := map[string][2]string{
		"drafter":   {broker.QueueNewsRaw, broker.QueueDraftsValidate},
		"validator": {broker.QueueDraftsValidate, broker.QueueMarketsPublish},
		"publisher": {broker.QueueMarketsPublish, ""},
		"resolver":  {broker.QueueMarketsResolve, ""},
		"disputes":  {broker.QueueDisputes, ""},
	}
	for _, workerType := range WorkerTypes {
		existing, err := s.Repo.GetWorkerConfigByType(ctx, workerType)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		cfg := &models.WorkerConfig{WorkerType: workerType, Enabled: true}
		if pair, ok := queues[workerType]; ok {
			if pair[0] != "" {
				in := pair[0]
				cfg.InputQueue = &in
			}
			if pair[1] != "" {
				out := pair[1]
				cfg.OutputQueue = &out
			}
		}
		if err := s.Repo.UpsertWorkerConfig(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}
