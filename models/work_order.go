package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WorkOrder is one CloudFleet work order keyed by its upstream Number.
// Every column except the bookkeeping timestamps is rewritten on each sync.
type WorkOrder struct {
	ID                  uint            `gorm:"primary_key" json:"id"`
	Number              int             `gorm:"uniqueIndex:idx_work_orders_number;not null" json:"number"`
	VehicleCode         string          `gorm:"size:64;index" json:"vehicle_code"`
	WorkshopDate        *time.Time      `json:"workshop_date"`
	StartDate           *time.Time      `gorm:"index" json:"start_date"`
	EstimatedFinishDate *time.Time      `json:"estimated_finish_date"`
	Status              string          `gorm:"size:50" json:"status"`
	Odometer            int             `json:"odometer"`
	Vendor              string          `gorm:"size:255" json:"vendor"`
	Reason              string          `gorm:"type:text" json:"reason"`
	MaintenanceType     string          `gorm:"size:255" json:"maintenance_type"`
	OrderType           string          `gorm:"size:50" json:"order_type"`
	City                string          `gorm:"size:100" json:"city"`
	CostCenter          string          `gorm:"size:100" json:"cost_center"`
	PrimaryGroup        string          `gorm:"size:100" json:"primary_group"`
	SourceCreatedAt     *time.Time      `json:"source_created_at"`
	CreatedBy           string          `gorm:"size:100" json:"created_by"`
	AffectsMaintenance  string          `gorm:"size:3" json:"affects_maintenance"`
	AffectsAvailability string          `gorm:"size:3" json:"affects_availability"`
	SourceUpdatedAt     *time.Time      `json:"source_updated_at"`
	UpdatedBy           string          `gorm:"size:100" json:"updated_by"`
	TotalCostLabors     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost_labors"`
	TotalCostParts      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost_parts"`
	TotalCost           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	TechnicalDoneAt     *time.Time      `json:"technical_done_at"`
	FinalDoneAt         *time.Time      `json:"final_done_at"`
	LastTechnicalDoneAt *time.Time      `json:"last_technical_done_at"`
	LastFinalDoneAt     *time.Time      `json:"last_final_done_at"`
	ContentHash         string          `gorm:"size:16" json:"-"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// WorkOrderLabor is keyed by (LaborId, OrderNumber).
type WorkOrderLabor struct {
	ID                   uint            `gorm:"primary_key" json:"id"`
	LaborId              int             `gorm:"uniqueIndex:idx_work_order_labors_key,priority:1;not null" json:"labor_id"`
	OrderNumber          int             `gorm:"uniqueIndex:idx_work_order_labors_key,priority:2;index;not null" json:"order_number"`
	Name                 string          `gorm:"size:255" json:"name"`
	MaintenanceType      string          `gorm:"size:100" json:"maintenance_type"`
	UnitCost             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	Qty                  decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"qty"`
	Discount             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	Tax                  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax"`
	TotalCost            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	System               string          `gorm:"size:100" json:"system"`
	Subsystem            string          `gorm:"size:100" json:"subsystem"`
	LedgerAccount        string          `gorm:"size:100" json:"ledger_account"`
	InvoiceNumber        string          `gorm:"size:100" json:"invoice_number"`
	Comment              string          `gorm:"type:text" json:"comment"`
	SourceCreatedAt      *time.Time      `json:"source_created_at"`
	VendorIdentification string          `gorm:"size:50" json:"vendor_identification"`
	Vendor               string          `gorm:"size:255" json:"vendor"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// WorkOrderPart is keyed by (PartId, OrderNumber).
type WorkOrderPart struct {
	ID              uint            `gorm:"primary_key" json:"id"`
	PartId          int             `gorm:"uniqueIndex:idx_work_order_parts_key,priority:1;not null" json:"part_id"`
	OrderNumber     int             `gorm:"uniqueIndex:idx_work_order_parts_key,priority:2;index;not null" json:"order_number"`
	Name            string          `gorm:"size:255" json:"name"`
	Code            string          `gorm:"size:100" json:"code"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	Qty             decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"qty"`
	Discount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	Tax             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax"`
	TotalCost       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	Vendor          string          `gorm:"size:255" json:"vendor"`
	LedgerAccount   string          `gorm:"size:100" json:"ledger_account"`
	InvoiceNumber   string          `gorm:"size:100" json:"invoice_number"`
	InvoiceDate     string          `gorm:"size:40" json:"invoice_date"`
	FilingDate      string          `gorm:"size:40" json:"filing_date"`
	Comment         string          `gorm:"type:text" json:"comment"`
	SourceCreatedAt *time.Time      `json:"source_created_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ExistingWorkOrder is the result of the natural-key lookup for an order, with the child ids
// already persisted for it.
type ExistingWorkOrder struct {
	Exists      bool
	Status      string
	ContentHash string
	LaborIds    map[int]bool
	PartIds     map[int]bool
}
