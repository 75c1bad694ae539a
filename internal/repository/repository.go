package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"predmarket/internal/models"
)

// Repository is the single source of truth for all state-machine fields.
// Status mutations are guarded by the caller's allowed from-set and report
// rows affected; zero rows on a guarded update means a state conflict.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Proposals
	InsertProposal(ctx context.Context, item *models.Proposal) error
	GetProposalByID(ctx context.Context, id uint64) (*models.Proposal, error)
	ListProposals(ctx context.Context, params ListProposalsParams) ([]models.Proposal, error)
	UpdateProposalStatusTx(ctx context.Context, tx *gorm.DB, id uint64, from []string, to string, updates map[string]any) (int64, error)
	CountProposalsSince(ctx context.Context, submitter string, since time.Time) (int64, error)

	// Markets
	InsertMarket(ctx context.Context, item *models.Market) error
	GetMarketByID(ctx context.Context, id uint64) (*models.Market, error)
	UpdateMarketStatusTx(ctx context.Context, tx *gorm.DB, id uint64, from []string, to string, updates map[string]any) (int64, error)
	UpdateMarketFieldsTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error
	ListMarketsDueForResolution(ctx context.Context, cutoff time.Time, limit int) ([]models.Market, error)
	CountAutoPublishedSince(ctx context.Context, since time.Time) (int64, error)

	// Resolutions
	InsertResolutionTx(ctx context.Context, tx *gorm.DB, item *models.Resolution) error
	GetResolutionByID(ctx context.Context, id uint64) (*models.Resolution, error)
	GetResolutionByMarketID(ctx context.Context, marketID uint64) (*models.Resolution, error)
	UpdateResolutionTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) (int64, error)
	ListPendingResolutionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Resolution, error)

	// Disputes
	InsertDisputeTx(ctx context.Context, tx *gorm.DB, item *models.Dispute) error
	GetDisputeByID(ctx context.Context, id uint64) (*models.Dispute, error)
	ListDisputes(ctx context.Context, params ListDisputesParams) ([]models.Dispute, error)
	UpdateDisputeStatusTx(ctx context.Context, tx *gorm.DB, id uint64, from []string, to string, updates map[string]any) (int64, error)
	CountActiveDisputesByResolution(ctx context.Context, resolutionID uint64) (int64, error)
	CountDisputesSince(ctx context.Context, disputant string, since time.Time) (int64, error)

	// Worker configs
	UpsertWorkerConfig(ctx context.Context, item *models.WorkerConfig) error
	GetWorkerConfigByType(ctx context.Context, workerType string) (*models.WorkerConfig, error)
	ListWorkerConfigs(ctx context.Context) ([]models.WorkerConfig, error)
	SetWorkerEnabled(ctx context.Context, workerType string, enabled bool) (int64, error)

	// Worker heartbeats
	UpsertWorkerHeartbeat(ctx context.Context, item *models.WorkerHeartbeat, delta HeartbeatDelta) error
	ListWorkerHeartbeats(ctx context.Context, params ListHeartbeatsParams) ([]models.WorkerHeartbeat, error)
	CountActiveInstances(ctx context.Context, workerType string, since time.Time) (int64, error)
	SumHeartbeatCounters(ctx context.Context, workerType string, since time.Time) (processed int64, failed int64, err error)

	// Pipeline settings (AIConfig backing store)
	ListPipelineSettings(ctx context.Context) ([]models.PipelineSetting, error)
	GetPipelineSettingByKey(ctx context.Context, key string) (*models.PipelineSetting, error)
	UpsertPipelineSettingTx(ctx context.Context, tx *gorm.DB, item *models.PipelineSetting) error

	// Audit trail
	InsertAuditLogTx(ctx context.Context, tx *gorm.DB, item *models.AuditLog) error
	InsertAuditLog(ctx context.Context, item *models.AuditLog) error
	ListAuditLogs(ctx context.Context, params ListAuditLogsParams) ([]models.AuditLog, error)
}

// HeartbeatDelta carries the increments applied atomically at the storage
// layer on heartbeat upsert. IsError drives the consecutive_errors counter.
type HeartbeatDelta struct {
	Processed int64
	Failed    int64
	IsError   bool
}

type ListProposalsParams struct {
	Limit  int
	Cursor *uint64
	Status *string
}

type ListDisputesParams struct {
	Limit  int
	Offset int
	Status *string
}

type ListHeartbeatsParams struct {
	WorkerType *string
	Since      *time.Time
	Limit      int
}

type ListAuditLogsParams struct {
	Limit      int
	Offset     int
	Action     *string
	EntityType *string
	EntityID   *string
}
