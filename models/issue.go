package models

import "time"

// Issue rows are insert-only; a re-seen issue never rewrites its row.
type Issue struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	Number          int        `gorm:"uniqueIndex:idx_issues_number;not null" json:"number"`
	VehicleCode     string     `gorm:"size:64;index" json:"vehicle_code"`
	ReportedAt      *time.Time `gorm:"index" json:"reported_at"`
	Reporter        string     `gorm:"size:100" json:"reporter"`
	Priority        string     `gorm:"size:50" json:"priority"`
	Odometer        int        `json:"odometer"`
	Comment         string     `gorm:"type:text" json:"comment"`
	Done            string     `gorm:"size:3" json:"done"`
	DoneAt          *time.Time `json:"done_at"`
	WorkOrderNumber int        `json:"work_order_number"`
	CreatedBy       string     `gorm:"size:100" json:"created_by"`
	SourceCreatedAt *time.Time `json:"source_created_at"`
	ChecklistNumber int        `json:"checklist_number"`
	ContentHash     string     `gorm:"size:16" json:"-"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// IssueLabor is the labor associated with an issue, keyed by (LaborId, IssueNumber).
type IssueLabor struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	LaborId     int       `gorm:"uniqueIndex:idx_issue_labors_key,priority:1;not null" json:"labor_id"`
	IssueNumber int       `gorm:"uniqueIndex:idx_issue_labors_key,priority:2;not null" json:"issue_number"`
	Name        string    `gorm:"size:255" json:"name"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
