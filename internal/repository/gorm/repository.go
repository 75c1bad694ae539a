package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"predmarket/internal/models"
	"predmarket/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// tx falls back to the store's own handle so non-transactional callers can
// share the guarded-update helpers.
func (s *Store) handle(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}

// --- Proposals ---------------------------------------------------------------

func (s *Store) InsertProposal(ctx context.Context, item *models.Proposal) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetProposalByID(ctx context.Context, id uint64) (*models.Proposal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Proposal
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListProposals(ctx context.Context, params repository.ListProposalsParams) ([]models.Proposal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Proposal{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Cursor != nil {
		query = query.Where("id > ?", *params.Cursor)
	}
	limit := normalizeLimit(params.Limit, 50)
	var items []models.Proposal
	if err := query.Order("id asc").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateProposalStatusTx(ctx context.Context, tx *gorm.DB, id uint64, from []string, to string, updates map[string]any) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	return guardedStatusUpdate(s.handle(ctx, tx), &models.Proposal{}, id, from, to, updates)
}

func (s *Store) CountProposalsSince(ctx context.Context, submitter string, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Proposal{}).Where("created_at > ?", since)
	if strings.TrimSpace(submitter) != "" {
		query = query.Where("submitter = ?", strings.TrimSpace(submitter))
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// --- Markets -----------------------------------------------------------------

func (s *Store) InsertMarket(ctx context.Context, item *models.Market) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetMarketByID(ctx context.Context, id uint64) (*models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Market
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateMarketStatusTx(ctx context.Context, tx *gorm.DB, id uint64, from []string, to string, updates map[string]any) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	return guardedStatusUpdate(s.handle(ctx, tx), &models.Market{}, id, from, to, updates)
}

func (s *Store) UpdateMarketFieldsTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	if s == nil || s.db == nil || len(updates) == 0 {
		return nil
	}
	return s.handle(ctx, tx).Model(&models.Market{}).Where("id = ?", id).Updates(updates).Error
}

func (s *Store) ListMarketsDueForResolution(ctx context.Context, cutoff time.Time, limit int) ([]models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 100)
	var items []models.Market
	err := s.db.WithContext(ctx).
		Model(&models.Market{}).
		Where("status = ?", "active").
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", cutoff).
		Order("expires_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountAutoPublishedSince(ctx context.Context, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.Market{}).
		Where("source_proposal_id IS NULL").
		Where("status = ?", "active").
		Where("published_at IS NOT NULL").
		Where("published_at > ?", since).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// --- Resolutions -------------------------------------------------------------

func (s *Store) InsertResolutionTx(ctx context.Context, tx *gorm.DB, item *models.Resolution) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.handle(ctx, tx).Create(item).Error
}

func (s *Store) GetResolutionByID(ctx context.Context, id uint64) (*models.Resolution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Resolution
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetResolutionByMarketID(ctx context.Context, marketID uint64) (*models.Resolution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Resolution
	err := s.db.WithContext(ctx).First(&item, "market_id = ?", marketID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateResolutionTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) (int64, error) {
	if s == nil || s.db == nil || len(updates) == 0 {
		return 0, nil
	}
	res := s.handle(ctx, tx).Model(&models.Resolution{}).Where("id = ?", id).Updates(updates)
	return res.RowsAffected, res.Error
}

func (s *Store) ListPendingResolutionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Resolution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Resolution
	err := s.db.WithContext(ctx).
		Where("status = ?", "pending").
		Where("created_at <= ?", cutoff).
		Order("created_at asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Disputes ----------------------------------------------------------------

func (s *Store) InsertDisputeTx(ctx context.Context, tx *gorm.DB, item *models.Dispute) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.handle(ctx, tx).Create(item).Error
}

func (s *Store) GetDisputeByID(ctx context.Context, id uint64) (*models.Dispute, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Dispute
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListDisputes(ctx context.Context, params repository.ListDisputesParams) ([]models.Dispute, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Dispute{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.Dispute
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateDisputeStatusTx(ctx context.Context, tx *gorm.DB, id uint64, from []string, to string, updates map[string]any) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	return guardedStatusUpdate(s.handle(ctx, tx), &models.Dispute{}, id, from, to, updates)
}

func (s *Store) CountActiveDisputesByResolution(ctx context.Context, resolutionID uint64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("resolution_id = ?", resolutionID).
		Where("status NOT IN ?", []string{"upheld", "overturned"}).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CountDisputesSince(ctx context.Context, disputant string, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Dispute{}).Where("created_at > ?", since)
	if strings.TrimSpace(disputant) != "" {
		query = query.Where("disputant = ?", strings.TrimSpace(disputant))
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// --- Worker configs ----------------------------------------------------------

func (s *Store) UpsertWorkerConfig(ctx context.Context, item *models.WorkerConfig) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.WorkerType) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "worker_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled",
			"poll_interval_ms",
			"cron_expression",
			"input_queue",
			"output_queue",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetWorkerConfigByType(ctx context.Context, workerType string) (*models.WorkerConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.WorkerConfig
	err := s.db.WithContext(ctx).First(&item, "worker_type = ?", strings.TrimSpace(workerType)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListWorkerConfigs(ctx context.Context) ([]models.WorkerConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.WorkerConfig
	if err := s.db.WithContext(ctx).Order("worker_type asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetWorkerEnabled(ctx context.Context, workerType string, enabled bool) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.WorkerConfig{}).
		Where("worker_type = ?", strings.TrimSpace(workerType)).
		Updates(map[string]any{
			"enabled":    enabled,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// --- Worker heartbeats -------------------------------------------------------

// UpsertWorkerHeartbeat applies counter deltas with storage-level arithmetic
// so concurrent instances never lose updates to read-modify-write races.
func (s *Store) UpsertWorkerHeartbeat(ctx context.Context, item *models.WorkerHeartbeat, delta repository.HeartbeatDelta) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	consecutive := "0"
	if delta.IsError {
		consecutive = "worker_heartbeats.consecutive_errors + 1"
	}
	assignments := map[string]any{
		"status":             item.Status,
		"last_heartbeat":     item.LastHeartbeat,
		"messages_processed": gorm.Expr("worker_heartbeats.messages_processed + ?", delta.Processed),
		"messages_failed":    gorm.Expr("worker_heartbeats.messages_failed + ?", delta.Failed),
		"consecutive_errors": gorm.Expr(consecutive),
		// Keep most recent non-null.
		"last_error":         gorm.Expr("COALESCE(?, worker_heartbeats.last_error)", item.LastError),
		"last_error_at":      gorm.Expr("COALESCE(?, worker_heartbeats.last_error_at)", item.LastErrorAt),
		"current_queue_size": gorm.Expr("COALESCE(?, worker_heartbeats.current_queue_size)", item.CurrentQueueSize),
		"hostname":           gorm.Expr("COALESCE(?, worker_heartbeats.hostname)", item.Hostname),
		"pid":                gorm.Expr("COALESCE(?, worker_heartbeats.pid)", item.PID),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_type"}, {Name: "worker_instance_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(item).Error
}

func (s *Store) ListWorkerHeartbeats(ctx context.Context, params repository.ListHeartbeatsParams) ([]models.WorkerHeartbeat, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.WorkerHeartbeat{})
	if params.WorkerType != nil && strings.TrimSpace(*params.WorkerType) != "" {
		query = query.Where("worker_type = ?", strings.TrimSpace(*params.WorkerType))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("last_heartbeat > ?", *params.Since)
	}
	limit := normalizeLimit(params.Limit, 200)
	var items []models.WorkerHeartbeat
	if err := query.Order("last_heartbeat desc").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountActiveInstances(ctx context.Context, workerType string, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.WorkerHeartbeat{}).
		Where("worker_type = ?", strings.TrimSpace(workerType)).
		Where("last_heartbeat > ?", since).
		Where("status IN ?", []string{"running", "idle"}).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) SumHeartbeatCounters(ctx context.Context, workerType string, since time.Time) (int64, int64, error) {
	if s == nil || s.db == nil {
		return 0, 0, nil
	}
	var row struct {
		Processed int64
		Failed    int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.WorkerHeartbeat{}).
		Select("COALESCE(SUM(messages_processed),0) AS processed, COALESCE(SUM(messages_failed),0) AS failed").
		Where("worker_type = ?", strings.TrimSpace(workerType)).
		Where("last_heartbeat > ?", since).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Processed, row.Failed, nil
}

// --- Pipeline settings -------------------------------------------------------

func (s *Store) ListPipelineSettings(ctx context.Context) ([]models.PipelineSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PipelineSetting
	if err := s.db.WithContext(ctx).Order("key asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetPipelineSettingByKey(ctx context.Context, key string) (*models.PipelineSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.PipelineSetting
	err := s.db.WithContext(ctx).First(&item, "key = ?", strings.TrimSpace(key)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertPipelineSettingTx(ctx context.Context, tx *gorm.DB, item *models.PipelineSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.handle(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

// --- Audit trail -------------------------------------------------------------

func (s *Store) InsertAuditLogTx(ctx context.Context, tx *gorm.DB, item *models.AuditLog) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.handle(ctx, tx).Create(item).Error
}

func (s *Store) InsertAuditLog(ctx context.Context, item *models.AuditLog) error {
	return s.InsertAuditLogTx(ctx, nil, item)
}

func (s *Store) ListAuditLogs(ctx context.Context, params repository.ListAuditLogsParams) ([]models.AuditLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if params.Action != nil && strings.TrimSpace(*params.Action) != "" {
		query = query.Where("action = ?", strings.TrimSpace(*params.Action))
	}
	if params.EntityType != nil && strings.TrimSpace(*params.EntityType) != "" {
		query = query.Where("entity_type = ?", strings.TrimSpace(*params.EntityType))
	}
	if params.EntityID != nil && strings.TrimSpace(*params.EntityID) != "" {
		query = query.Where("entity_id = ?", strings.TrimSpace(*params.EntityID))
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.AuditLog
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers -----------------------------------------------------------------

func guardedStatusUpdate(db *gorm.DB, model any, id uint64, from []string, to string, updates map[string]any) (int64, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	query := db.Model(model).Where("id = ?", id)
	if len(from) > 0 {
		query = query.Where("status IN ?", from)
	}
	res := query.Updates(updates)
	return res.RowsAffected, res.Error
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
