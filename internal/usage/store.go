// Package usage implements spec §4.8's usage logger: on each completed
// request it derives TTFT/tokens-per-second/cost fields and persists a
// request_usage row (or an inference_errors row on failure), using the
// create-pending/finalize-by-id two-step (SPEC_FULL §9's pending→finalize
// usage rows) for streaming requests.
package usage

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageRow is the persisted shape of spec §6's request_usage table.
type UsageRow struct {
	ID                      string `gorm:"primaryKey;column:id"`
	RequestID               string `gorm:"column:request_id;index"`
	Pending                 bool   `gorm:"column:pending"`
	ClientAPIType           string `gorm:"column:client_api_type"`
	Provider                string `gorm:"column:provider"`
	Model                   string `gorm:"column:model"`
	AliasUsed               string `gorm:"column:alias_used"`
	APIKeyName              string `gorm:"column:api_key_name"`
	ClientIP                string `gorm:"column:client_ip"`
	Streaming               bool   `gorm:"column:streaming"`
	Passthrough             bool   `gorm:"column:passthrough"`
	InputTokens             int    `gorm:"column:input_tokens"`
	OutputTokens            int    `gorm:"column:output_tokens"`
	CachedTokens            int    `gorm:"column:cached_tokens"`
	ReasoningTokens         int    `gorm:"column:reasoning_tokens"`
	EstimatedUsage          bool   `gorm:"column:estimated_usage"`
	CostUSD                 float64 `gorm:"column:cost_usd"`
	CostSource              string `gorm:"column:cost_source"`
	LatencyMs               int64  `gorm:"column:latency_ms"`
	ProviderTTFTMs          int64  `gorm:"column:provider_ttft_ms"`
	ClientTTFTMs            int64  `gorm:"column:client_ttft_ms"`
	TransformationOverheadMs int64 `gorm:"column:transformation_overhead_ms"`
	ProviderTokensPerSecond float64 `gorm:"column:provider_tokens_per_second"`
	ClientTokensPerSecond   float64 `gorm:"column:client_tokens_per_second"`
	CreatedAt               time.Time `gorm:"column:created_at"`
	FinalizedAt             time.Time `gorm:"column:finalized_at"`
}

// TableName pins the gorm table name to spec §6's schema.
func (UsageRow) TableName() string { return "request_usage" }

// ErrorRow is the persisted shape of spec §6's inference_errors table.
type ErrorRow struct {
	ID            string    `gorm:"primaryKey;column:id"`
	RequestID     string    `gorm:"column:request_id;index"`
	ClientAPIType string    `gorm:"column:client_api_type"`
	AliasUsed     string    `gorm:"column:alias_used"`
	APIKeyName    string    `gorm:"column:api_key_name"`
	Kind          string    `gorm:"column:kind"`
	Message       string    `gorm:"column:message"`
	StatusCode    int       `gorm:"column:status_code"`
	AttemptCount  int       `gorm:"column:attempt_count"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

// TableName pins the gorm table name to spec §6's schema.
func (ErrorRow) TableName() string { return "inference_errors" }

// Store is the persistence seam Logger writes through, narrow enough to
// preserve spec §1's "opaque key/value + append store" framing: usage
// rows upserted by row id plus an append-only error log, grounded on internal/cooldown's
// Store shape (LoadAll/Upsert/Delete) but specialized to usage's
// create-pending/finalize-by-id lifecycle instead of the cooldown table's
// full-scan-on-load one.
type Store interface {
	UpsertUsage(row UsageRow) error
	InsertError(row ErrorRow) error
}

// GormStore is the default Store, backed by gorm.io/gorm + gorm.io/driver/sqlite,
// mirroring internal/cooldown.GormStore's AutoMigrate-on-open idiom.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens/migrates the usage tables on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&UsageRow{}, &ErrorRow{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// UpsertUsage implements the pending->finalize two-step: the first call (at
// stream start, or directly for unary requests) creates the row; a later
// call with the same ID overwrites it in place. Idempotent by construction
// since the finalize step always writes the same ID.
func (s *GormStore) UpsertUsage(row UsageRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// InsertError appends an inference_errors row; this table is append-only
// with no update path (an error is terminal, unlike a pending usage row).
func (s *GormStore) InsertError(row ErrorRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	return s.db.Create(&row).Error
}
