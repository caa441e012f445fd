package models

import "time"

// Checklist rows are insert-only.
type Checklist struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	Number          int        `gorm:"uniqueIndex:idx_checklists_number;not null" json:"number"`
	VehicleCode     string     `gorm:"size:64;index" json:"vehicle_code"`
	ChecklistDate   *time.Time `gorm:"index" json:"checklist_date"`
	Status          string     `gorm:"size:50" json:"status"`
	StartedAt       *time.Time `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	DurationMinutes int        `json:"duration_minutes"`
	TypeName        string     `gorm:"size:100" json:"type_name"`
	Odometer        int        `json:"odometer"`
	Hourmeter       int        `json:"hourmeter"`
	Driver          string     `gorm:"size:100" json:"driver"`
	City            string     `gorm:"size:100" json:"city"`
	CostCenter      string     `gorm:"size:100" json:"cost_center"`
	PrimaryGroup    string     `gorm:"size:100" json:"primary_group"`
	SourceCreatedAt *time.Time `json:"source_created_at"`
	CreatedBy       string     `gorm:"size:100" json:"created_by"`
	ContentHash     string     `gorm:"size:16" json:"-"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// ChecklistVariable is keyed by (ChecklistNumber, Name) and never rewritten once present.
type ChecklistVariable struct {
	ID              uint      `gorm:"primary_key" json:"id"`
	ChecklistNumber int       `gorm:"uniqueIndex:idx_checklist_variables_key,priority:1;not null" json:"checklist_number"`
	Name            string    `gorm:"uniqueIndex:idx_checklist_variables_key,priority:2;size:191;not null" json:"name"`
	Response        string    `gorm:"size:255" json:"response"`
	GroupName       string    `gorm:"size:100" json:"group_name"`
	Status          string    `gorm:"size:50" json:"status"`
	Comment         string    `gorm:"type:text" json:"comment"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
