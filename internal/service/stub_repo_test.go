package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"predmarket/internal/aiconfig"
	"predmarket/internal/models"
	"predmarket/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Guarded status updates honor the caller's from-set exactly like the SQL
// WHERE status IN (...) they stand in for.
type stubRepo struct {
	proposals   map[uint64]*models.Proposal
	markets     map[uint64]*models.Market
	resolutions map[uint64]*models.Resolution
	disputes    map[uint64]*models.Dispute
	configs     map[string]*models.WorkerConfig
	heartbeats  map[string]*models.WorkerHeartbeat
	settings    map[string]*models.PipelineSetting
	audits      []models.AuditLog

	nextID  uint64
	listErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		proposals:   map[uint64]*models.Proposal{},
		markets:     map[uint64]*models.Market{},
		resolutions: map[uint64]*models.Resolution{},
		disputes:    map[uint64]*models.Dispute{},
		configs:     map[string]*models.WorkerConfig{},
		heartbeats:  map[string]*models.WorkerHeartbeat{},
		settings:    map[string]*models.PipelineSetting{},
		nextID:      1,
	}
}

func (s *stubRepo) id() uint64 {
	id := s.nextID
	s.nextID++
	return id
}

func statusIn(status string, from []string) bool {
	for _, f := range from {
		if f == status {
			return true
		}
	}
	return false
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

// --- Proposals

func (s *stubRepo) InsertProposal(ctx context.Context, item *models.Proposal) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	clone := *item
	s.proposals[item.ID] = &clone
	return nil
}

func (s *stubRepo) GetProposalByID(ctx context.Context, id uint64) (*models.Proposal, error) {
	item, ok := s.proposals[id]
	if !ok {
		return nil, nil
	}
	clone := *item
	return &clone, nil
}

func (s *stubRepo) ListProposals(ctx context.Context, params repository.ListProposalsParams) ([]models.Proposal, error) {
	var out []models.Proposal
	for _, item := range s.proposals {
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		if params.Cursor != nil && item.ID <= *params.Cursor {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *stubRepo) UpdateProposalStatusTx(ctx context.Context, tx *gorm.DB, id uint64, from []string, to string, updates map[string]any) (int64, error) {
	item, ok := s.proposals[id]
	if !ok || !statusIn(item.Status, from) {
		return 0, nil
	}
	item.Status = to
	for key, value := range updates {
		switch key {
		case "processed_at":
			v := value.(time.Time)
			item.ProcessedAt = &v
		case "rejection_reason":
			v := value.(string)
			item.RejectionReason = &v
		case "draft_market_id":
			v := value.(uint64)
			item.DraftMarketID = &v
		}
	}
	return 1, nil
}

func (s *stubRepo) CountProposalsSince(ctx context.Context, submitter string, since time.Time) (int64, error) {
	var n int64
	for _, item := range s.proposals {
		if item.Submitter == submitter && item.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// --- Markets

func (s *stubRepo) InsertMarket(ctx context.Context, item *models.Market) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	clone := *item
	s.markets[item.ID] = &clone
	return nil
}

func (s *stubRepo) GetMarketByID(ctx context.Context, id uint64) (*models.Market, error) {
	item, ok := s.markets[id]
	if !ok {
		return nil, nil
	}
	clone := *item
	return &clone, nil
}

func (s *stubRepo) UpdateMarketStatusTx(ctx context.Context, tx *gorm.DB, id uint64, from []string, to string, updates map[string]any) (int64, error) {
	item, ok := s.markets[id]
	if !ok || !statusIn(item.Status, from) {
		return 0, nil
	}
	item.Status = to
	for key, value := range updates {
		switch key {
		case "published_at":
			v := value.(time.Time)
			item.PublishedAt = &v
		case "resolved_at":
			v := value.(time.Time)
			item.ResolvedAt = &v
		case "finalized_at":
			v := value.(time.Time)
			item.FinalizedAt = &v
		case "title":
			item.Title = value.(string)
		case "resolution":
			item.Resolution = value.(datatypes.JSON)
		case "expires_at":
			v := value.(time.Time)
			item.ExpiresAt = &v
		}
	}
	return 1, nil
}

func (s *stubRepo) UpdateMarketFieldsTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	item, ok := s.markets[id]
	if !ok {
		return nil
	}
	if v, ok := updates["market_address"].(string); ok {
		item.MarketAddress = &v
	}
	return nil
}

func (s *stubRepo) ListMarketsDueForResolution(ctx context.Context, cutoff time.Time, limit int) ([]models.Market, error) {
	var out []models.Market
	for _, item := range s.markets {
		if item.Status == "active" && item.ExpiresAt != nil && !item.ExpiresAt.After(cutoff) {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (s *stubRepo) CountAutoPublishedSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	for _, item := range s.markets {
		if item.SourceProposalID == nil && item.Status == "active" &&
			item.PublishedAt != nil && item.PublishedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// --- Resolutions

func (s *stubRepo) InsertResolutionTx(ctx context.Context, tx *gorm.DB, item *models.Resolution) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	clone := *item
	s.resolutions[item.ID] = &clone
	return nil
}

func (s *stubRepo) GetResolutionByID(ctx context.Context, id uint64) (*models.Resolution, error) {
	item, ok := s.resolutions[id]
	if !ok {
		return nil, nil
	}
	clone := *item
	return &clone, nil
}

func (s *stubRepo) GetResolutionByMarketID(ctx context.Context, marketID uint64) (*models.Resolution, error) {
	for _, item := range s.resolutions {
		if item.MarketID == marketID {
			clone := *item
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) UpdateResolutionTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) (int64, error) {
	item, ok := s.resolutions[id]
	if !ok {
		return 0, nil
	}
	for key, value := range updates {
		switch key {
		case "status":
			item.Status = value.(string)
		case "final_result":
			item.FinalResult = value.(string)
		case "finalized_at":
			v := value.(time.Time)
			item.FinalizedAt = &v
		}
	}
	return 1, nil
}

func (s *stubRepo) ListPendingResolutionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Resolution, error) {
	var out []models.Resolution
	for _, item := range s.resolutions {
		if item.Status == "pending" && !item.CreatedAt.After(cutoff) {
			out = append(out, *item)
		}
	}
	return out, nil
}

// --- Disputes

func (s *stubRepo) InsertDisputeTx(ctx context.Context, tx *gorm.DB, item *models.Dispute) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	clone := *item
	s.disputes[item.ID] = &clone
	return nil
}

func (s *stubRepo) GetDisputeByID(ctx context.Context, id uint64) (*models.Dispute, error) {
	item, ok := s.disputes[id]
	if !ok {
		return nil, nil
	}
	clone := *item
	return &clone, nil
}

func (s *stubRepo) ListDisputes(ctx context.Context, params repository.ListDisputesParams) ([]models.Dispute, error) {
	var out []models.Dispute
	for _, item := range s.disputes {
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *stubRepo) UpdateDisputeStatusTx(ctx context.Context, tx *gorm.DB, id uint64, from []string, to string, updates map[string]any) (int64, error) {
	item, ok := s.disputes[id]
	if !ok || !statusIn(item.Status, from) {
		return 0, nil
	}
	item.Status = to
	for key, value := range updates {
		switch key {
		case "admin_review":
			v := value.(string)
			item.AdminReview = &v
		case "resolved_at":
			v := value.(time.Time)
			item.ResolvedAt = &v
		case "new_result":
			v := value.(string)
			item.NewResult = &v
		}
	}
	return 1, nil
}

func (s *stubRepo) CountActiveDisputesByResolution(ctx context.Context, resolutionID uint64) (int64, error) {
	var n int64
	for _, item := range s.disputes {
		if item.ResolutionID != resolutionID {
			continue
		}
		switch item.Status {
		case "pending", "escalated", "reviewing":
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) CountDisputesSince(ctx context.Context, disputant string, since time.Time) (int64, error) {
	var n int64
	for _, item := range s.disputes {
		if item.Disputant == disputant && item.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// --- Worker configs

func (s *stubRepo) UpsertWorkerConfig(ctx context.Context, item *models.WorkerConfig) error {
	clone := *item
	s.configs[item.WorkerType] = &clone
	return nil
}

func (s *stubRepo) GetWorkerConfigByType(ctx context.Context, workerType string) (*models.WorkerConfig, error) {
	item, ok := s.configs[workerType]
	if !ok {
		return nil, nil
	}
	clone := *item
	return &clone, nil
}

func (s *stubRepo) ListWorkerConfigs(ctx context.Context) ([]models.WorkerConfig, error) {
	var out []models.WorkerConfig
	for _, item := range s.configs {
		out = append(out, *item)
	}
	return out, nil
}

func (s *stubRepo) SetWorkerEnabled(ctx context.Context, workerType string, enabled bool) (int64, error) {
	item, ok := s.configs[workerType]
	if !ok {
		return 0, nil
	}
	item.Enabled = enabled
	return 1, nil
}

// --- Heartbeats

func (s *stubRepo) UpsertWorkerHeartbeat(ctx context.Context, item *models.WorkerHeartbeat, delta repository.HeartbeatDelta) error {
	key := item.WorkerType + "/" + item.WorkerInstanceID
	existing, ok := s.heartbeats[key]
	if !ok {
		clone := *item
		clone.MessagesProcessed = delta.Processed
		clone.MessagesFailed = delta.Failed
		if delta.IsError {
			clone.ConsecutiveErrors = 1
		}
		s.heartbeats[key] = &clone
		return nil
	}
	existing.Status = item.Status
	existing.LastHeartbeat = item.LastHeartbeat
	existing.MessagesProcessed += delta.Processed
	existing.MessagesFailed += delta.Failed
	if delta.IsError {
		existing.ConsecutiveErrors++
	} else {
		existing.ConsecutiveErrors = 0
	}
	if item.CurrentQueueSize != nil {
		existing.CurrentQueueSize = item.CurrentQueueSize
	}
	if item.LastError != nil {
		existing.LastError = item.LastError
		existing.LastErrorAt = item.LastErrorAt
	}
	if item.Hostname != nil {
		existing.Hostname = item.Hostname
	}
	if item.PID != nil {
		existing.PID = item.PID
	}
	return nil
}

func (s *stubRepo) ListWorkerHeartbeats(ctx context.Context, params repository.ListHeartbeatsParams) ([]models.WorkerHeartbeat, error) {
	var out []models.WorkerHeartbeat
	for _, item := range s.heartbeats {
		if params.WorkerType != nil && item.WorkerType != *params.WorkerType {
			continue
		}
		if params.Since != nil && item.LastHeartbeat.Before(*params.Since) {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *stubRepo) CountActiveInstances(ctx context.Context, workerType string, since time.Time) (int64, error) {
	var n int64
	for _, item := range s.heartbeats {
		if item.WorkerType != workerType || item.LastHeartbeat.Before(since) {
			continue
		}
		if item.Status == "running" || item.Status == "idle" {
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) SumHeartbeatCounters(ctx context.Context, workerType string, since time.Time) (int64, int64, error) {
	var processed, failed int64
	for _, item := range s.heartbeats {
		if item.WorkerType != workerType || item.LastHeartbeat.Before(since) {
			continue
		}
		processed += item.MessagesProcessed
		failed += item.MessagesFailed
	}
	return processed, failed, nil
}

// --- Pipeline settings

func (s *stubRepo) ListPipelineSettings(ctx context.Context) ([]models.PipelineSetting, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.PipelineSetting
	for _, item := range s.settings {
		out = append(out, *item)
	}
	return out, nil
}

func (s *stubRepo) GetPipelineSettingByKey(ctx context.Context, key string) (*models.PipelineSetting, error) {
	item, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	clone := *item
	return &clone, nil
}

func (s *stubRepo) UpsertPipelineSettingTx(ctx context.Context, tx *gorm.DB, item *models.PipelineSetting) error {
	clone := *item
	if clone.ID == 0 {
		clone.ID = s.id()
	}
	s.settings[item.Key] = &clone
	return nil
}

// --- Audit

func (s *stubRepo) InsertAuditLogTx(ctx context.Context, tx *gorm.DB, item *models.AuditLog) error {
	s.audits = append(s.audits, *item)
	return nil
}

func (s *stubRepo) InsertAuditLog(ctx context.Context, item *models.AuditLog) error {
	s.audits = append(s.audits, *item)
	return nil
}

func (s *stubRepo) ListAuditLogs(ctx context.Context, params repository.ListAuditLogsParams) ([]models.AuditLog, error) {
	return append([]models.AuditLog(nil), s.audits...), nil
}

// stubPublisher records published messages per queue.
type stubPublisher struct {
	published map[string][]any
	accepted  bool
}

func newStubPublisher() *stubPublisher {
	return &stubPublisher{published: map[string][]any{}, accepted: true}
}

func (p *stubPublisher) Publish(ctx context.Context, queue string, v any) (bool, error) {
	p.published[queue] = append(p.published[queue], v)
	return p.accepted, nil
}

// staticConfig serves a fixed AIConfig without a backing store.
type staticConfig struct {
	cfg aiconfig.AIConfig
}

func (s staticConfig) Get(ctx context.Context) aiconfig.AIConfig { return s.cfg }

func asServiceError(err error, target **Error) bool {
	return errors.As(err, target)
}
