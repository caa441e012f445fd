package cloudfleet

import (
	"fmt"
	"io"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"github.com/xuri/excelize/v2"
)

const syncLogSheet = "Sheet1"

var syncLogHeadings = []string{
	"Id", "Message", "Status", "StartedAt", "CompletedAt",
	"NewOrders", "UpdatedOrders", "NewIssues", "UpdatedIssues", "NewChecklists", "UpdatedChecklists",
	"Unchanged", "Errors", "ErrorMessage",
}

func syncRunCellValues(r *models.SyncRun) []interface{} {
	completedAt := ""
	if r.CompletedAt != nil {
		completedAt = r.CompletedAt.Format("2006-01-02 15:04:05")
	}
	count := func(v *int) interface{} {
		if v == nil {
			return ""
		}
		return *v
	}
	return []interface{}{
		r.ID, r.Message, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"), completedAt,
		count(r.NewOrders), count(r.UpdatedOrders), count(r.NewIssues), count(r.UpdatedIssues),
		count(r.NewChecklists), count(r.UpdatedChecklists),
		r.UnchangedCount, r.ErrorCount, r.ErrorMessage,
	}
}

// WriteSyncRunsXlsx renders runs as a single-sheet workbook, one row per run.
func WriteSyncRunsXlsx(w io.Writer, runs []*models.SyncRun) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, h := range syncLogHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(syncLogSheet, cell, h); err != nil {
			return err
		}
	}

	for rowIdx, run := range runs {
		for colIdx, value := range syncRunCellValues(run) {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(syncLogSheet, cell, value); err != nil {
				return fmt.Errorf("write %s: %w", cell, err)
			}
		}
	}

	return f.Write(w)
}
