package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentswarm/types"
)

type contractRow struct {
	ContractID           string `gorm:"primaryKey;size:64"`
	DelegatorNodeID      string `gorm:"size:128;not null"`
	DelegateeNodeID      string `gorm:"size:128;not null;index"`
	TaskID               string `gorm:"size:128;not null;index"`
	TaskText             string `gorm:"type:text"`
	MaxDurationMs        int64
	MaxTokens            int64
	MaxCostUSD           float64                           `gorm:"column:max_cost_usd"`
	RequireCheckpoints   bool
	CheckpointIntervalMs int64
	ReportLevel          string                            `gorm:"size:32"`
	PermissionBoundary   *types.ContractPermissionBoundary `gorm:"type:text;serializer:json"`
	Status               string                            `gorm:"size:16;not null;index"`
	Reason               string                            `gorm:"type:text"`
	CreatedAt            time.Time
	TerminatedAt         *time.Time
}

// TableName implements gorm's tabler.
func (contractRow) TableName() string { return "delegation_contracts" }

func toRow(c DelegationContract) contractRow {
	row := contractRow{
		ContractID:           c.ContractID,
		DelegatorNodeID:      c.DelegatorNodeID,
		DelegateeNodeID:      c.DelegateeNodeID,
		TaskID:               c.TaskID,
		TaskText:             c.TaskText,
		MaxDurationMs:        c.SLO.MaxDurationMs,
		MaxTokens:            c.SLO.MaxTokens,
		MaxCostUSD:           c.SLO.MaxCostUSD,
		RequireCheckpoints:   c.Monitoring.RequireCheckpoints,
		CheckpointIntervalMs: c.Monitoring.CheckpointIntervalMs,
		ReportLevel:          c.Monitoring.ReportLevel,
		PermissionBoundary:   c.PermissionBoundary,
		Status:               string(c.Status),
		Reason:               c.Reason,
		CreatedAt:            c.CreatedAt,
	}
	if !c.TerminatedAt.IsZero() {
		t := c.TerminatedAt
		row.TerminatedAt = &t
	}
	return row
}

func fromRow(r contractRow) DelegationContract {
	c := DelegationContract{
		ContractID:      r.ContractID,
		DelegatorNodeID: r.DelegatorNodeID,
		DelegateeNodeID: r.DelegateeNodeID,
		TaskID:          r.TaskID,
		TaskText:        r.TaskText,
		SLO: types.ContractSLO{
			MaxDurationMs: r.MaxDurationMs,
			MaxTokens:     r.MaxTokens,
			MaxCostUSD:    r.MaxCostUSD,
		},
		Monitoring: types.ContractMonitoring{
			RequireCheckpoints:   r.RequireCheckpoints,
			CheckpointIntervalMs: r.CheckpointIntervalMs,
			ReportLevel:          r.ReportLevel,
		},
		PermissionBoundary: r.PermissionBoundary,
		Status:             Status(r.Status),
		Reason:             r.Reason,
		CreatedAt:          r.CreatedAt,
	}
	if r.TerminatedAt != nil {
		c.TerminatedAt = *r.TerminatedAt
	}
	return c
}

// Transactor runs fn inside one database transaction.
type Transactor func(ctx context.Context, fn func(tx *gorm.DB) error) error

// GormStore persists contracts through gorm.
type GormStore struct {
	db *gorm.DB
	tx Transactor
}

// StoreOption configures a GormStore.
type StoreOption func(*GormStore)

// WithTransactor replaces the plain gorm transaction used for terminal
// status writes, e.g. with a retrying pool transaction.
func WithTransactor(tx Transactor) StoreOption {
	return func(s *GormStore) { s.tx = tx }
}

// NewGormStore wraps db.
func NewGormStore(db *gorm.DB, opts ...StoreOption) *GormStore {
	s := &GormStore{db: db}
	s.tx = func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return s.db.WithContext(ctx).Transaction(fn)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping reads one row to confirm the table exists and answers.
func (s *GormStore) Ping(ctx context.Context) error {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&contractRow{}).Limit(1).Pluck("contract_id", &ids).Error; err != nil {
		return fmt.Errorf("read %s: %w", contractRow{}.TableName(), err)
	}
	return nil
}

// AutoMigrate creates the table when migrations are not run separately.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&contractRow{})
}

// Save implements Store with an upsert on contract_id. A terminal status is
// written in a transaction that refuses to overwrite a contract another
// writer already terminated.
func (s *GormStore) Save(ctx context.Context, c DelegationContract) error {
	row := toRow(c)
	if !c.Status.Terminal() {
		if err := upsert(s.db.WithContext(ctx), &row); err != nil {
			return fmt.Errorf("save contract %s: %w", c.ContractID, err)
		}
		return nil
	}

	err := s.tx(ctx, func(tx *gorm.DB) error {
		var current contractRow
		err := tx.Where("contract_id = ?", c.ContractID).Take(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		case Status(current.Status).Terminal():
			return fmt.Errorf("%w: %s is %s", ErrContractNotActive, c.ContractID, current.Status)
		}
		return upsert(tx, &row)
	})
	if err != nil {
		return fmt.Errorf("save contract %s: %w", c.ContractID, err)
	}
	return nil
}

func upsert(db *gorm.DB, row *contractRow) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract_id"}},
		UpdateAll: true,
	}).Create(row).Error
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, contractID string) (DelegationContract, error) {
	var row contractRow
	err := s.db.WithContext(ctx).Where("contract_id = ?", contractID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DelegationContract{}, fmt.Errorf("%w: %s", ErrContractNotFound, contractID)
	}
	if err != nil {
		return DelegationContract{}, fmt.Errorf("get contract %s: %w", contractID, err)
	}
	return fromRow(row), nil
}

// ListByStatus implements Store.
func (s *GormStore) ListByStatus(ctx context.Context, status Status) ([]DelegationContract, error) {
	var rows []contractRow
	if err := s.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	out := make([]DelegationContract, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}
