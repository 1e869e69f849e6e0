package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/model"
	"gorm.io/gorm"
)

// AuditRepository handles the append-only audit_logs table
type AuditRepository struct {
	BaseRepository
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// AuditCountQuery narrows Count. Zero values are ignored. When both Resource and ActionLike are set
// an entry matches on either one.
type AuditCountQuery struct {
	UserID            string
	Since             time.Time
	Category          string
	Severity          string
	Resource          string
	ActionLike        string
	ExcludeActionLike []string
	Success           *bool
}

func (r *AuditRepository) Create(ctx context.Context, entry *model.AuditLog) error {
	return r.withContext(ctx).Create(entry).Error
}

func (r *AuditRepository) applyFilter(query *gorm.DB, filter dto.AuditLogFilter) *gorm.DB {
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.Resource != "" {
		query = query.Where("resource = ?", filter.Resource)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Success != nil {
		query = query.Where("success = ?", *filter.Success)
	}
	if filter.StartDate != nil {
		query = query.Where("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("created_at <= ?", *filter.EndDate)
	}
	return query
}

// Query returns one page of matching entries, newest first, and the total match count.
func (r *AuditRepository) Query(ctx context.Context, filter dto.AuditLogFilter) ([]model.AuditLog, int64, error) {
	var logs []model.AuditLog
	var total int64

	if err := r.applyFilter(r.withContext(ctx).Model(&model.AuditLog{}), filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.applyFilter(r.withContext(ctx), filter).
		Order("created_at DESC").
		Order("id DESC").
		Scopes(page(filter.Limit, filter.Offset)).
		Find(&logs).Error
	if err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

func (r *AuditRepository) Count(ctx context.Context, q AuditCountQuery) (int64, error) {
	query := r.withContext(ctx).Model(&model.AuditLog{})
	if q.UserID != "" {
		query = query.Where("user_id = ?", q.UserID)
	}
	if !q.Since.IsZero() {
		query = query.Where("created_at >= ?", q.Since)
	}
	if q.Category != "" {
		query = query.Where("category = ?", q.Category)
	}
	if q.Severity != "" {
		query = query.Where("severity = ?", q.Severity)
	}
	switch {
	case q.Resource != "" && q.ActionLike != "":
		query = query.Where("(resource = ? OR action LIKE ?)", q.Resource, "%"+q.ActionLike+"%")
	case q.Resource != "":
		query = query.Where("resource = ?", q.Resource)
	case q.ActionLike != "":
		query = query.Where("action LIKE ?", "%"+q.ActionLike+"%")
	}
	for _, excluded := range q.ExcludeActionLike {
		query = query.Where("action NOT LIKE ?", "%"+excluded+"%")
	}
	if q.Success != nil {
		query = query.Where("success = ?", *q.Success)
	}

	var total int64
	err := query.Count(&total).Error
	return total, err
}

var groupableColumns = map[string]bool{
	"category": true,
	"action":   true,
	"severity": true,
}

// CountBy groups entries created since the given time by one column.
func (r *AuditRepository) CountBy(ctx context.Context, column string, since time.Time) (map[string]int64, error) {
	if !groupableColumns[column] {
		return nil, fmt.Errorf("cannot group audit logs by %q", column)
	}

	var rows []struct {
		Value string
		Total int64
	}
	err := r.withContext(ctx).Model(&model.AuditLog{}).
		Select(column+" AS value, COUNT(*) AS total").
		Where("created_at >= ?", since).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Value] = row.Total
	}
	return counts, nil
}

// TopUsers ranks users by entry volume since the given time.
func (r *AuditRepository) TopUsers(ctx context.Context, since time.Time, limit int) ([]dto.CountByKey, error) {
	var rows []struct {
		Value string
		Total int64
	}
	err := r.withContext(ctx).Model(&model.AuditLog{}).
		Select("user_id AS value, COUNT(*) AS total").
		Where("created_at >= ? AND user_id <> ''", since).
		Group("user_id").
		Order("total DESC").
		Order("value ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	users := make([]dto.CountByKey, 0, len(rows))
	for _, row := range rows {
		users = append(users, dto.CountByKey{Key: row.Value, Count: row.Total})
	}
	return users, nil
}

// Timestamps lists creation times in ascending order, optionally for one user.
func (r *AuditRepository) Timestamps(ctx context.Context, userID string, since time.Time) ([]time.Time, error) {
	var logs []model.AuditLog
	query := r.withContext(ctx).Select("created_at").Where("created_at >= ?", since)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Order("created_at ASC").Find(&logs).Error; err != nil {
		return nil, err
	}

	times := make([]time.Time, 0, len(logs))
	for _, entry := range logs {
		times = append(times, entry.CreatedAt)
	}
	return times, nil
}

func (r *AuditRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit, offset int) ([]model.AuditLog, error) {
	var logs []model.AuditLog
	err := r.withContext(ctx).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Order("id ASC").
		Scopes(page(limit, offset)).
		Find(&logs).Error
	return logs, err
}

func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.withContext(ctx).Where("created_at < ?", cutoff).Delete(&model.AuditLog{})
	return result.RowsAffected, result.Error
}
