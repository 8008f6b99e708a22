// Package cooldown implements spec §4.1's cooldown manager: per-(provider,
// model) failure tracking with exponential backoff, persisted across
// restarts through gorm.
package cooldown

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Row is the persisted shape of spec §6's provider_cooldowns table:
// primary key (provider, model).
type Row struct {
	Provider          string    `gorm:"primaryKey;column:provider"`
	Model             string    `gorm:"primaryKey;column:model"`
	ExpiryUnixMs      int64     `gorm:"column:expiry"`
	ConsecutiveFailures int     `gorm:"column:consecutive_failures"`
	LastErrorType     string    `gorm:"column:last_error_type"`
	CreatedAt         time.Time `gorm:"column:created_at"`
}

// TableName pins the gorm table name to spec §6's schema.
func (Row) TableName() string { return "provider_cooldowns" }

// Store is the persistence seam cooldown.Manager writes through. It is
// deliberately narrow (load all / upsert / delete) so spec §1's "opaque
// key/value + append store" framing holds: the manager never issues ad hoc
// queries against the underlying SQL engine.
type Store interface {
	LoadAll() ([]Row, error)
	Upsert(row Row) error
	Delete(provider, model string) error
}

// GormStore is the default Store, backed by gorm.io/gorm + gorm.io/driver/sqlite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens/migrates the cooldown table on db. db is expected to
// already be connected (sqlite file or :memory:); migration is a single
// AutoMigrate call, matching the teacher's own db_init.go idiom of
// migrating on startup rather than depending on golang-migrate tooling for
// a schema this fixed.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) LoadAll() ([]Row, error) {
	var rows []Row
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormStore) Upsert(row Row) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "model"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *GormStore) Delete(provider, model string) error {
	return s.db.Where("provider = ? AND model = ?", provider, model).Delete(&Row{}).Error
}
