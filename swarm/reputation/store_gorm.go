package reputation

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// reputationRow is the persisted form of PeerReputation.
type reputationRow struct {
	NodeID               string  `gorm:"primaryKey;size:128"`
	TasksCompleted       int     `gorm:"not null;default:0"`
	TasksFailed          int     `gorm:"not null;default:0"`
	TasksAborted         int     `gorm:"not null;default:0"`
	TotalDurationMs      int64   `gorm:"not null;default:0"`
	TotalTokensUsed      int64   `gorm:"not null;default:0"`
	TotalCostUSD         float64 `gorm:"column:total_cost_usd;not null;default:0"`
	AvgLatencyMs         float64 `gorm:"not null;default:0"`
	LastLatencyMs        int64   `gorm:"not null;default:0"`
	LatencySamples       int64   `gorm:"not null;default:0"`
	ConsecutiveSuccesses int     `gorm:"not null;default:0"`
	ConsecutiveFailures  int     `gorm:"not null;default:0"`
	TrustScore           float64 `gorm:"not null;default:0.5"`
	LastOutcomeAt        *time.Time
	UpdatedAt            time.Time
}

// TableName implements gorm's tabler.
func (reputationRow) TableName() string { return "peer_reputations" }

// GormStore persists reputations through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Ping reads one row to confirm the table exists and answers.
func (s *GormStore) Ping(ctx context.Context) error {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&reputationRow{}).Limit(1).Pluck("node_id", &ids).Error; err != nil {
		return fmt.Errorf("read %s: %w", reputationRow{}.TableName(), err)
	}
	return nil
}

// AutoMigrate creates the table when migrations are not run separately.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&reputationRow{})
}

// LoadAll implements Store.
func (s *GormStore) LoadAll(ctx context.Context) ([]PeerReputation, error) {
	var rows []reputationRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load reputations: %w", err)
	}
	out := make([]PeerReputation, 0, len(rows))
	for _, r := range rows {
		rep := PeerReputation{
			NodeID:               r.NodeID,
			TasksCompleted:       r.TasksCompleted,
			TasksFailed:          r.TasksFailed,
			TasksAborted:         r.TasksAborted,
			TotalDurationMs:      r.TotalDurationMs,
			TotalTokensUsed:      r.TotalTokensUsed,
			TotalCostUSD:         r.TotalCostUSD,
			AvgLatencyMs:         r.AvgLatencyMs,
			LastLatencyMs:        r.LastLatencyMs,
			LatencySamples:       r.LatencySamples,
			ConsecutiveSuccesses: r.ConsecutiveSuccesses,
			ConsecutiveFailures:  r.ConsecutiveFailures,
			TrustScore:           r.TrustScore,
		}
		if r.LastOutcomeAt != nil {
			rep.LastOutcomeAt = *r.LastOutcomeAt
		}
		out = append(out, rep)
	}
	return out, nil
}

// Save implements Store with an upsert on node_id.
func (s *GormStore) Save(ctx context.Context, rep PeerReputation) error {
	row := reputationRow{
		NodeID:               rep.NodeID,
		TasksCompleted:       rep.TasksCompleted,
		TasksFailed:          rep.TasksFailed,
		TasksAborted:         rep.TasksAborted,
		TotalDurationMs:      rep.TotalDurationMs,
		TotalTokensUsed:      rep.TotalTokensUsed,
		TotalCostUSD:         rep.TotalCostUSD,
		AvgLatencyMs:         rep.AvgLatencyMs,
		LastLatencyMs:        rep.LastLatencyMs,
		LatencySamples:       rep.LatencySamples,
		ConsecutiveSuccesses: rep.ConsecutiveSuccesses,
		ConsecutiveFailures:  rep.ConsecutiveFailures,
		TrustScore:           rep.TrustScore,
	}
	if !rep.LastOutcomeAt.IsZero() {
		t := rep.LastOutcomeAt
		row.LastOutcomeAt = &t
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "node_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save reputation %s: %w", rep.NodeID, err)
	}
	return nil
}
