package cloudfleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStartTruncatesNewestDate(t *testing.T) {
	db := newTestDB(t)
	older := time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC)
	newest := time.Date(2024, time.March, 10, 17, 45, 12, 0, time.UTC)
	require.NoError(t, db.Create(&models.WorkOrder{Number: 1, StartDate: &older}).Error)
	require.NoError(t, db.Create(&models.WorkOrder{Number: 2, StartDate: &newest}).Error)
	require.NoError(t, db.Create(&models.WorkOrder{Number: 3}).Error)

	resolver := NewWatermarkResolver(db, fixedClock{testNow}, time.UTC, 1)
	start, err := resolver.ResolveStart(context.Background(), DomainOrders)
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)), "got %s", start)
}

func TestResolveStartUsesDomainColumn(t *testing.T) {
	db := newTestDB(t)
	reported := time.Date(2024, time.February, 20, 23, 59, 0, 0, time.UTC)
	checked := time.Date(2024, time.March, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&models.Issue{Number: 5, ReportedAt: &reported}).Error)
	require.NoError(t, db.Create(&models.Checklist{Number: 8, ChecklistDate: &checked}).Error)

	resolver := NewWatermarkResolver(db, fixedClock{testNow}, time.UTC, 1)
	ctx := context.Background()

	issues, err := resolver.ResolveStart(ctx, DomainIssues)
	require.NoError(t, err)
	assert.True(t, issues.Equal(time.Date(2024, time.February, 20, 0, 0, 0, 0, time.UTC)), "got %s", issues)

	checklists, err := resolver.ResolveStart(ctx, DomainChecklists)
	require.NoError(t, err)
	assert.True(t, checklists.Equal(time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)), "got %s", checklists)
}

func TestResolveStartFallsBackOnEmptyStore(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "mid month",
			now:  testNow,
			want: time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "january wraps to previous year",
			now:  time.Date(2024, time.January, 10, 8, 0, 0, 0, time.UTC),
			want: time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "first instant of a month",
			now:  time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	db := newTestDB(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewWatermarkResolver(db, fixedClock{tt.now}, time.UTC, 1)
			for _, d := range SyncOrder {
				start, err := resolver.ResolveStart(context.Background(), d)
				require.NoError(t, err)
				assert.True(t, start.Equal(tt.want), "%s: got %s", d, start)
			}
		})
	}
}

func TestResolveStartReportsQueryFailure(t *testing.T) {
	// no tables: every watermark query fails
	db := openTestDB(t)

	resolver := NewWatermarkResolver(db, fixedClock{testNow}, time.UTC, 1)
	start, err := resolver.ResolveStart(context.Background(), DomainOrders)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWatermarkQuery))
	assert.True(t, start.Equal(time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)), "got %s", start)
}

func TestWindowEndsNow(t *testing.T) {
	db := newTestDB(t)
	resolver := NewWatermarkResolver(db, fixedClock{testNow}, time.UTC, 2)
	start, end, err := resolver.Window(context.Background(), DomainChecklists)
	require.NoError(t, err)
	assert.True(t, end.Equal(testNow))
	assert.True(t, start.Equal(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)), "got %s", start)
	assert.True(t, start.Before(end))
}
