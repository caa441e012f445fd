package cloudfleet

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReconcileChecklist inserts a first-seen checklist. Variables are added when missing for new
// and known checklists alike, and are never rewritten.
func (r *Reconciler) ReconcileChecklist(ctx context.Context, raw []byte) (Outcome, error) {
	var p checklistPayload
	if err := r.decodeRecord(raw, &p, peekNumber(raw)); err != nil {
		return OutcomeError, err
	}

	row := mapChecklist(p)
	storedHash, exists, err := r.lookupChecklist(ctx, p.Number)
	if err != nil {
		return OutcomeError, recordError(CodeReconcileFailed, p.Number, err)
	}

	outcome := OutcomeNew
	if exists {
		outcome = r.existingOutcome(storedHash, row.ContentHash)
	} else {
		tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "number"}},
			DoNothing: true,
		}).Create(&row)
		if tx.Error != nil {
			return OutcomeError, recordError(CodeReconcileFailed, p.Number, tx.Error)
		}
		if tx.RowsAffected == 0 {
			outcome = OutcomeUpdated
		}
	}

	variables := mapChecklistVariables(p)
	if len(variables) > 0 {
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "checklist_number"}, {Name: "name"}},
			DoNothing: true,
		}).Create(&variables).Error
		if err != nil {
			return OutcomeError, recordError(CodeReconcileFailed, p.Number, err)
		}
	}
	return outcome, nil
}

func (r *Reconciler) lookupChecklist(ctx context.Context, number int) (string, bool, error) {
	var stored models.Checklist
	err := r.db.WithContext(ctx).Select("id", "content_hash").Where("number = ?", number).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return stored.ContentHash, true, nil
}

func mapChecklist(p checklistPayload) models.Checklist {
	vehicleCode := ""
	if p.Vehicle != nil {
		vehicleCode = p.Vehicle.Code
	}
	return models.Checklist{
		Number:          p.Number,
		VehicleCode:     text(vehicleCode),
		ChecklistDate:   p.ChecklistDate.Ptr(),
		Status:          refName(p.Status),
		StartedAt:       p.StartedAt.Ptr(),
		EndedAt:         p.EndedAt.Ptr(),
		DurationMinutes: wholeNumber(p.DurationInMinutes),
		TypeName:        refName(p.Type),
		Odometer:        wholeNumber(p.Odometer),
		Hourmeter:       wholeNumber(p.Hourmeter),
		Driver:          refName(p.Driver),
		City:            refName(p.City),
		CostCenter:      refName(p.CostCenter),
		PrimaryGroup:    refName(p.PrimaryGroup),
		SourceCreatedAt: p.CreatedAt.Ptr(),
		CreatedBy:       refName(p.CreatedBy),
		ContentHash:     contentHash(p),
	}
}

// mapChecklistVariables keeps the first occurrence of each variable name.
func mapChecklistVariables(p checklistPayload) []models.ChecklistVariable {
	seen := map[string]bool{}
	out := make([]models.ChecklistVariable, 0, len(p.Variables))
	for _, v := range p.Variables {
		if seen[v.Name] {
			continue
		}
		seen[v.Name] = true
		out = append(out, models.ChecklistVariable{
			ChecklistNumber: p.Number,
			Name:            v.Name,
			Response:        text(string(v.Response)),
			GroupName:       text(v.GroupName),
			Status:          refName(v.Status),
			Comment:         text(v.Comment),
		})
	}
	return out
}
