package cloudfleet

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/utils"
	"gorm.io/gorm/clause"
)

// columns rewritten when a known work order is seen again
var workOrderMutableColumns = []string{
	"vehicle_code", "workshop_date", "start_date", "estimated_finish_date", "status", "odometer",
	"vendor", "reason", "maintenance_type", "order_type", "city", "cost_center", "primary_group",
	"affects_maintenance", "affects_availability", "source_updated_at", "updated_by",
	"total_cost_labors", "total_cost_parts", "total_cost",
	"technical_done_at", "final_done_at", "last_technical_done_at", "last_final_done_at",
	"content_hash",
}

var workOrderLaborColumns = []string{
	"name", "maintenance_type", "unit_cost", "qty", "discount", "tax", "total_cost",
	"system", "subsystem", "ledger_account", "invoice_number", "comment", "source_created_at",
	"vendor_identification", "vendor",
}

var workOrderPartColumns = []string{
	"name", "code", "unit_cost", "qty", "discount", "tax", "total_cost", "vendor",
	"ledger_account", "invoice_number", "invoice_date", "filing_date", "comment", "source_created_at",
}

// ReconcileOrder writes one work order detail document and its labors and parts.
func (r *Reconciler) ReconcileOrder(ctx context.Context, detail []byte) (Outcome, error) {
	var p workOrderPayload
	if err := r.decodeRecord(detail, &p, peekNumber(detail)); err != nil {
		return OutcomeError, err
	}

	existing, err := r.lookupOrder(ctx, p.Number)
	if err != nil {
		return OutcomeError, recordError(CodeReconcileFailed, p.Number, err)
	}

	row := mapWorkOrder(p)
	labors := make([]models.WorkOrderLabor, 0, len(p.Labors))
	for _, l := range p.Labors {
		labors = append(labors, mapWorkOrderLabor(p.Number, l))
	}
	parts := make([]models.WorkOrderPart, 0, len(p.Parts))
	for _, pt := range p.Parts {
		parts = append(parts, mapWorkOrderPart(p.Number, pt))
	}

	if !existing.Exists {
		if err := r.insertWorkOrder(ctx, &row); err != nil {
			return OutcomeError, recordError(CodeReconcileFailed, p.Number, err)
		}
		// a first-seen order cannot have stored children
		for i := range labors {
			if err := r.upsertLabor(ctx, &labors[i]); err != nil {
				return OutcomeError, recordError(CodeReconcileFailed, p.Number, err)
			}
		}
		for i := range parts {
			if err := r.upsertPart(ctx, &parts[i]); err != nil {
				return OutcomeError, recordError(CodeReconcileFailed, p.Number, err)
			}
		}
		return OutcomeNew, nil
	}

	outcome := r.existingOutcome(existing.ContentHash, row.ContentHash)
	if outcome == OutcomeUnchanged {
		return outcome, nil
	}

	if err := r.updateWorkOrder(ctx, &row); err != nil {
		return OutcomeError, recordError(CodeReconcileFailed, p.Number, err)
	}

	laborInserts, laborUpdates := planChildren(existing.LaborIds, labors, func(l models.WorkOrderLabor) int { return l.LaborId })
	for i := range laborUpdates {
		if err := r.updateLabor(ctx, &laborUpdates[i]); err != nil {
			return OutcomeError, recordError(CodeReconcileFailed, p.Number, err)
		}
	}
	for i := range laborInserts {
		if err := r.upsertLabor(ctx, &laborInserts[i]); err != nil {
			return OutcomeError, recordError(CodeReconcileFailed, p.Number, err)
		}
	}

	partInserts, partUpdates := planChildren(existing.PartIds, parts, func(pt models.WorkOrderPart) int { return pt.PartId })
	for i := range partUpdates {
		if err := r.updatePart(ctx, &partUpdates[i]); err != nil {
			return OutcomeError, recordError(CodeReconcileFailed, p.Number, err)
		}
	}
	for i := range partInserts {
		if err := r.upsertPart(ctx, &partInserts[i]); err != nil {
			return OutcomeError, recordError(CodeReconcileFailed, p.Number, err)
		}
	}
	return outcome, nil
}

type workOrderLookupRow struct {
	Number      int
	Status      string
	ContentHash string
	LaborId     *int
	PartId      *int
}

// lookupOrder checks the natural key and collects stored child ids in one round trip.
func (r *Reconciler) lookupOrder(ctx context.Context, number int) (models.ExistingWorkOrder, error) {
	var rows []workOrderLookupRow
	err := r.db.WithContext(ctx).
		Table("work_orders AS o").
		Select("o.number, o.status, o.content_hash, l.labor_id, p.part_id").
		Joins("LEFT JOIN work_order_labors AS l ON l.order_number = o.number").
		Joins("LEFT JOIN work_order_parts AS p ON p.order_number = o.number").
		Where("o.number = ?", number).
		Scan(&rows).Error
	if err != nil {
		return models.ExistingWorkOrder{}, err
	}

	result := models.ExistingWorkOrder{
		Exists:   len(rows) > 0,
		LaborIds: map[int]bool{},
		PartIds:  map[int]bool{},
	}
	for _, row := range rows {
		result.Status = row.Status
		result.ContentHash = row.ContentHash
		if row.LaborId != nil {
			result.LaborIds[*row.LaborId] = true
		}
		if row.PartId != nil {
			result.PartIds[*row.PartId] = true
		}
	}
	return result, nil
}

func (r *Reconciler) insertWorkOrder(ctx context.Context, row *models.WorkOrder) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "number"}},
		DoUpdates: clause.AssignmentColumns(workOrderMutableColumns),
	}).Create(row).Error
}

func (r *Reconciler) updateWorkOrder(ctx context.Context, row *models.WorkOrder) error {
	tx := r.db.WithContext(ctx).Model(&models.WorkOrder{}).
		Where("number = ?", row.Number).
		Select(workOrderMutableColumns).
		Updates(row)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return r.insertWorkOrder(ctx, row)
	}
	return nil
}

func (r *Reconciler) upsertLabor(ctx context.Context, row *models.WorkOrderLabor) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "labor_id"}, {Name: "order_number"}},
		DoUpdates: clause.AssignmentColumns(workOrderLaborColumns),
	}).Create(row).Error
}

func (r *Reconciler) updateLabor(ctx context.Context, row *models.WorkOrderLabor) error {
	tx := r.db.WithContext(ctx).Model(&models.WorkOrderLabor{}).
		Where("labor_id = ? AND order_number = ?", row.LaborId, row.OrderNumber).
		Select(workOrderLaborColumns).
		Updates(row)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return r.upsertLabor(ctx, row)
	}
	return nil
}

func (r *Reconciler) upsertPart(ctx context.Context, row *models.WorkOrderPart) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "part_id"}, {Name: "order_number"}},
		DoUpdates: clause.AssignmentColumns(workOrderPartColumns),
	}).Create(row).Error
}

func (r *Reconciler) updatePart(ctx context.Context, row *models.WorkOrderPart) error {
	tx := r.db.WithContext(ctx).Model(&models.WorkOrderPart{}).
		Where("part_id = ? AND order_number = ?", row.PartId, row.OrderNumber).
		Select(workOrderPartColumns).
		Updates(row)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return r.upsertPart(ctx, row)
	}
	return nil
}

func mapWorkOrder(p workOrderPayload) models.WorkOrder {
	return models.WorkOrder{
		Number:              p.Number,
		VehicleCode:         text(p.VehicleCode),
		WorkshopDate:        p.WorkshopDate.Ptr(),
		StartDate:           p.StartDate.Ptr(),
		EstimatedFinishDate: p.EstimatedFinishDate.Ptr(),
		Status:              text(p.Status),
		Odometer:            wholeNumber(p.Odometer),
		Vendor:              vendorName(p.Vendor),
		Reason:              text(p.Reason),
		MaintenanceType:     text(strings.Join(p.MaintenanceLabels, ", ")),
		OrderType:           text(p.Type),
		City:                refName(p.City),
		CostCenter:          refName(p.CostCenter),
		PrimaryGroup:        refName(p.PrimaryGroup),
		SourceCreatedAt:     p.CreatedAt.Ptr(),
		CreatedBy:           refName(p.CreatedBy),
		AffectsMaintenance:  utils.YesNo(p.AffectsMaintenanceSchedule),
		AffectsAvailability: utils.YesNo(p.AffectsVehicleAvailability),
		SourceUpdatedAt:     p.UpdatedAt.Ptr(),
		UpdatedBy:           refName(p.UpdatedBy),
		TotalCostLabors:     p.TotalCostLabors,
		TotalCostParts:      p.TotalCostParts,
		TotalCost:           p.TotalCost,
		TechnicalDoneAt:     p.TechnicalCompletionDate.Ptr(),
		FinalDoneAt:         p.FinalCompletionDate.Ptr(),
		LastTechnicalDoneAt: p.LastSystemTechnicalCompletionDate.Ptr(),
		LastFinalDoneAt:     p.LastSystemFinalCompletionDate.Ptr(),
		ContentHash:         contentHash(p),
	}
}

func mapWorkOrderLabor(orderNumber int, l laborPayload) models.WorkOrderLabor {
	invoiceNumber := ""
	if l.Invoice != nil {
		invoiceNumber = l.Invoice.Number
	}
	return models.WorkOrderLabor{
		LaborId:              l.ID,
		OrderNumber:          orderNumber,
		Name:                 text(l.Name),
		MaintenanceType:      refName(l.MaintenanceType),
		UnitCost:             l.UnitCost,
		Qty:                  l.Qty,
		Discount:             l.Discount,
		Tax:                  l.Tax,
		TotalCost:            l.TotalCost,
		System:               refName(l.System),
		Subsystem:            refName(l.Subsystem),
		LedgerAccount:        text(l.LedgerAccount),
		InvoiceNumber:        text(invoiceNumber),
		Comment:              text(l.Comment),
		SourceCreatedAt:      l.CreatedAt.Ptr(),
		VendorIdentification: vendorIdentification(l.Vendor),
		Vendor:               vendorName(l.Vendor),
	}
}

func mapWorkOrderPart(orderNumber int, pt partPayload) models.WorkOrderPart {
	invoiceNumber := pt.InvoiceNumber
	invoiceDate, filingDate := "", ""
	if pt.Invoice != nil {
		if pt.Invoice.Number != "" {
			invoiceNumber = pt.Invoice.Number
		}
		invoiceDate = pt.Invoice.Date
		filingDate = pt.Invoice.FilingDate
	}
	return models.WorkOrderPart{
		PartId:          pt.ID,
		OrderNumber:     orderNumber,
		Name:            text(pt.Name),
		Code:            text(pt.Code),
		UnitCost:        pt.UnitCost,
		Qty:             pt.Qty,
		Discount:        pt.Discount,
		Tax:             pt.Tax,
		TotalCost:       pt.TotalCost,
		Vendor:          vendorName(pt.Vendor),
		LedgerAccount:   text(pt.LedgerAccount),
		InvoiceNumber:   text(invoiceNumber),
		InvoiceDate:     text(invoiceDate),
		FilingDate:      text(filingDate),
		Comment:         text(pt.Comment),
		SourceCreatedAt: pt.CreatedAt.Ptr(),
	}
}
