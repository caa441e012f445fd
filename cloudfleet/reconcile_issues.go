package cloudfleet

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReconcileIssue inserts a first-seen issue. Known issues are never rewritten; only a missing
// associated labor is added.
func (r *Reconciler) ReconcileIssue(ctx context.Context, raw []byte) (Outcome, error) {
	var p issuePayload
	if err := r.decodeRecord(raw, &p, peekNumber(raw)); err != nil {
		return OutcomeError, err
	}

	row := mapIssue(p)
	storedHash, exists, err := r.lookupIssue(ctx, p.Number)
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
			// another writer inserted it first
			outcome = OutcomeUpdated
		}
	}

	if p.AssociatedLabor != nil {
		labor := models.IssueLabor{
			LaborId:     p.AssociatedLabor.ID,
			IssueNumber: p.Number,
			Name:        text(p.AssociatedLabor.Name),
		}
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "labor_id"}, {Name: "issue_number"}},
			DoNothing: true,
		}).Create(&labor).Error
		if err != nil {
			return OutcomeError, recordError(CodeReconcileFailed, p.Number, err)
		}
	}
	return outcome, nil
}

func (r *Reconciler) lookupIssue(ctx context.Context, number int) (string, bool, error) {
	var stored models.Issue
	err := r.db.WithContext(ctx).Select("id", "content_hash").Where("number = ?", number).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return stored.ContentHash, true, nil
}

func mapIssue(p issuePayload) models.Issue {
	return models.Issue{
		Number:          p.Number,
		VehicleCode:     text(p.VehicleCode),
		ReportedAt:      p.ReportedAt.Ptr(),
		Reporter:        refName(p.Reporter),
		Priority:        text(p.Priority),
		Odometer:        wholeNumber(p.Odometer),
		Comment:         text(p.Comment),
		Done:            utils.YesNo(p.IsDone),
		DoneAt:          p.DoneAt.Ptr(),
		WorkOrderNumber: p.WorkOrderDoneNumber,
		CreatedBy:       refName(p.CreatedBy),
		SourceCreatedAt: p.CreatedAt.Ptr(),
		ChecklistNumber: p.FromChecklistNumber,
		ContentHash:     contentHash(p),
	}
}
