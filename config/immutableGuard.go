package config

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/appctx"
	"gorm.io/gorm"
)

// ErrImmutableTable is added to the statement when an UPDATE targets an insert-only table.
var ErrImmutableTable = errors.New("table is insert-only")

// insert-only tables: rows are written once and never rewritten by a later sync
var immutableTables = map[string]bool{
	"issues":              true,
	"issue_labors":        true,
	"checklists":          true,
	"checklist_variables": true,
}

// ImmutableGuardPlugin rejects UPDATE statements against insert-only tables.
//
// Raw SQL is not inspected. Maintenance code can bypass the guard with
// appctx.ContextKeyAllowImmutableWrite set to true.
type ImmutableGuardPlugin struct{}

func NewImmutableGuardPlugin() *ImmutableGuardPlugin { return &ImmutableGuardPlugin{} }

func (p *ImmutableGuardPlugin) Name() string { return "immutable_guard" }

func (p *ImmutableGuardPlugin) Initialize(db *gorm.DB) error {
	return db.Callback().Update().Before("gorm:update").Register("immutable_guard:update", immutableGuardCallback)
}

func immutableGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if allowImmutableWrite(db.Statement.Context) {
		return
	}
	table := db.Statement.Table
	if table == "" && db.Statement.Schema != nil {
		table = db.Statement.Schema.Table
	}
	if immutableTables[table] {
		_ = db.AddError(fmt.Errorf("%w: %s", ErrImmutableTable, table))
	}
}

func allowImmutableWrite(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := ctx.Value(appctx.ContextKeyAllowImmutableWrite).(bool)
	return ok && v
}
