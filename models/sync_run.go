package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredPubSub = "pubsub"
)

const SyncRunMessage = "Sync"

// SyncRun is one multi-domain run. Created at start, updated once at the end, never deleted.
type SyncRun struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	Message           string     `gorm:"size:50;not null" json:"message"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy       string     `gorm:"size:20" json:"triggered_by"`
	CorrelationId     string     `gorm:"size:64;index" json:"correlation_id"`
	StartedAt         time.Time  `gorm:"index;not null" json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"`
	NewOrders         *int       `json:"new_orders"`
	UpdatedOrders     *int       `json:"updated_orders"`
	NewIssues         *int       `json:"new_issues"`
	UpdatedIssues     *int       `json:"updated_issues"`
	NewChecklists     *int       `json:"new_checklists"`
	UpdatedChecklists *int       `json:"updated_checklists"`
	UnchangedCount    int        `json:"unchanged_count"`
	ErrorCount        int        `json:"error_count"`
	ErrorMessage      string     `gorm:"type:text" json:"error_message,omitempty"`
	DurationMs        int64      `json:"duration_ms"`
}

// SyncError is one record-level failure captured during a run.
type SyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	Domain      string    `gorm:"size:20" json:"domain"`
	NaturalKey  string    `gorm:"size:64" json:"natural_key"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload,omitempty"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// SyncRunCounts are the final per-domain totals written when a run completes.
type SyncRunCounts struct {
	NewOrders         int
	UpdatedOrders     int
	NewIssues         int
	UpdatedIssues     int
	NewChecklists     int
	UpdatedChecklists int
	Unchanged         int
	Errors            int
}

func CreateSyncRun(ctx context.Context, db *gorm.DB, startedAt time.Time, triggeredBy string, correlationId string) (*SyncRun, error) {
	run := SyncRun{
		Message:       SyncRunMessage,
		Status:        SyncRunStatusRunning,
		TriggeredBy:   triggeredBy,
		CorrelationId: correlationId,
		StartedAt:     startedAt,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func CompleteSyncRun(ctx context.Context, db *gorm.DB, runId uint, completedAt time.Time, counts SyncRunCounts) error {
	var run SyncRun
	if err := db.WithContext(ctx).Select("id", "started_at").Where("id = ?", runId).Take(&run).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&SyncRun{}).Where("id = ?", runId).Updates(map[string]interface{}{
		"status":             SyncRunStatusSuccess,
		"completed_at":       completedAt,
		"new_orders":         counts.NewOrders,
		"updated_orders":     counts.UpdatedOrders,
		"new_issues":         counts.NewIssues,
		"updated_issues":     counts.UpdatedIssues,
		"new_checklists":     counts.NewChecklists,
		"updated_checklists": counts.UpdatedChecklists,
		"unchanged_count":    counts.Unchanged,
		"error_count":        counts.Errors,
		"duration_ms":        completedAt.Sub(run.StartedAt).Milliseconds(),
	}).Error
}

// FailSyncRun marks the run failed. Counts stay NULL: a run aborted by a domain failure has no totals.
func FailSyncRun(ctx context.Context, db *gorm.DB, runId uint, cause error, errorCount int) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return db.WithContext(ctx).Model(&SyncRun{}).Where("id = ?", runId).Updates(map[string]interface{}{
		"status":        SyncRunStatusFailed,
		"error_message": message,
		"error_count":   errorCount,
	}).Error
}

// GetRecentSyncRuns returns the latest runs ordered by start time, newest first.
func GetRecentSyncRuns(ctx context.Context, db *gorm.DB, limit int) ([]*SyncRun, error) {
	var runs []*SyncRun
	err := db.WithContext(ctx).Order("started_at DESC").Order("id DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func GetSyncRun(ctx context.Context, db *gorm.DB, runId uint) (*SyncRun, error) {
	var run SyncRun
	if err := db.WithContext(ctx).Where("id = ?", runId).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSyncRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

func CreateSyncError(ctx context.Context, db *gorm.DB, syncErr *SyncError) error {
	return db.WithContext(ctx).Create(syncErr).Error
}

// DeleteSyncErrors removes the failures captured for one domain of a run.
func DeleteSyncErrors(ctx context.Context, db *gorm.DB, runId uint, domain string) error {
	return db.WithContext(ctx).Where("sync_run_id = ? AND domain = ?", runId, domain).Delete(&SyncError{}).Error
}

func GetSyncErrors(ctx context.Context, db *gorm.DB, runId uint) ([]*SyncError, error) {
	var results []*SyncError
	if err := db.WithContext(ctx).Where("sync_run_id = ?", runId).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

var ErrSyncRunNotFound = errors.New("sync run not found")
