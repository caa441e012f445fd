package cloudfleet

import (
	"context"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// serveHappyUpstream registers one page per domain: two orders (the second has no detail),
// three issues (the second is malformed) and one checklist.
func serveHappyUpstream(f *fakeUpstream) {
	f.mux.HandleFunc("/v1/work-orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"number":100},{"number":101}]`)
	})
	f.mux.HandleFunc("/v1/work-orders/100", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, orderDetailV1)
	})
	f.mux.HandleFunc("/v1/work-orders/101", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"message":"not found"}`)
	})
	f.mux.HandleFunc("/v1/issues", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[
			{"number":1,"priority":"Alta","reportedAt":"2024-03-02T10:00:00Z"},
			{"number":2,"isDone":"maybe"},
			{"number":3,"priority":"Baja","reportedAt":"2024-03-03T10:00:00Z"}
		]`)
	})
	f.mux.HandleFunc("/v1/checklist", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"number":300,"checklistDate":"2024-03-04T07:00:00Z",
			"variables":[{"name":"Frenos","response":"OK"}]}]`)
	})
}

func newTestSyncer(t *testing.T, db *gorm.DB, baseURL string, options ...SyncerOption) (*Syncer, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	options = append([]SyncerOption{WithClock(fixedClock{testNow}), WithSleeper(sleeper)}, options...)
	return NewSyncer(db, testOptions(baseURL), options...), sleeper
}

func TestRunSyncsEveryDomainAndIsolatesRecordFailures(t *testing.T) {
	db := newTestDB(t)
	upstream := newFakeUpstream(t)
	serveHappyUpstream(upstream)
	syncer, sleeper := newTestSyncer(t, db, upstream.URL)

	result, err := syncer.Run(context.Background(), Trigger{By: models.SyncTriggeredManual, CorrelationId: "corr-1"})
	require.NoError(t, err)

	assert.Equal(t, Stats{New: 1, Errors: 1}, result.Stats.Orders)
	assert.Equal(t, Stats{New: 2, Errors: 1}, result.Stats.Issues)
	assert.Equal(t, Stats{New: 1}, result.Stats.Checklists)

	summary := result.Summary()
	assert.Equal(t, "Sync completed", summary.Message)
	assert.Equal(t, 1, summary.NewOrders)
	assert.Equal(t, 2, summary.NewIssues)

	// one detail delay between the two orders of the page, none after the last
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeper.Calls())

	// the first run has an empty store and starts from the fallback month
	req := upstream.FirstRequest("/v1/work-orders")
	require.NotNil(t, req)
	assert.Equal(t, "2024-02-01T00:00:00Z", req.URL.Query().Get("StartDateFrom"))
	assert.Equal(t, "2024-03-15T10:30:00Z", req.URL.Query().Get("StartDateTo"))

	var issues []models.Issue
	require.NoError(t, db.Order("number").Find(&issues).Error)
	require.Len(t, issues, 2)
	assert.Equal(t, []int{1, 3}, []int{issues[0].Number, issues[1].Number})

	run, err := models.GetSyncRun(context.Background(), db, result.RunId)
	require.NoError(t, err)
	assert.Equal(t, models.SyncRunStatusSuccess, run.Status)
	assert.Equal(t, models.SyncRunMessage, run.Message)
	assert.Equal(t, "corr-1", run.CorrelationId)
	require.NotNil(t, run.NewOrders)
	require.NotNil(t, run.UpdatedChecklists)
	assert.Equal(t, 1, *run.NewOrders)
	assert.Equal(t, 0, *run.UpdatedChecklists)
	assert.Equal(t, 2, run.ErrorCount)
	require.NotNil(t, run.CompletedAt)

	syncErrors, err := models.GetSyncErrors(context.Background(), db, result.RunId)
	require.NoError(t, err)
	require.Len(t, syncErrors, 2)
	assert.Equal(t, string(DomainOrders), syncErrors[0].Domain)
	assert.Equal(t, "101", syncErrors[0].NaturalKey)
	assert.Equal(t, CodeDetailFailed, syncErrors[0].ErrorCode)
	assert.Equal(t, string(DomainIssues), syncErrors[1].Domain)
	assert.Equal(t, "2", syncErrors[1].NaturalKey)
	assert.Equal(t, CodeInvalidPayload, syncErrors[1].ErrorCode)
}

func TestRunTwiceCountsReSeenRecordsAsUpdated(t *testing.T) {
	db := newTestDB(t)
	upstream := newFakeUpstream(t)
	serveHappyUpstream(upstream)
	syncer, _ := newTestSyncer(t, db, upstream.URL)
	ctx := context.Background()

	_, err := syncer.Run(ctx, Trigger{By: models.SyncTriggeredManual})
	require.NoError(t, err)
	second, err := syncer.Run(ctx, Trigger{By: models.SyncTriggeredManual})
	require.NoError(t, err)

	summary := second.Summary()
	assert.Equal(t, 0, summary.NewOrders)
	assert.Equal(t, 1, summary.UpdatedOrders)
	assert.Equal(t, 0, summary.NewIssues)
	assert.Equal(t, 2, summary.UpdatedIssues)
	assert.Equal(t, 1, summary.UpdatedChecklists)

	var orders, issues, checklists int64
	db.Model(&models.WorkOrder{}).Count(&orders)
	db.Model(&models.Issue{}).Count(&issues)
	db.Model(&models.Checklist{}).Count(&checklists)
	assert.Equal(t, []int64{1, 2, 1}, []int64{orders, issues, checklists})

	runs, err := models.GetRecentSyncRuns(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunId, runs[0].ID)
}

func TestRunAbortsWhenADomainKeepsFailing(t *testing.T) {
	db := newTestDB(t)
	upstream := newFakeUpstream(t)
	upstream.mux.HandleFunc("/v1/work-orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[]`)
	})
	upstream.mux.HandleFunc("/v1/issues", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"message":"boom"}`)
	})
	upstream.mux.HandleFunc("/v1/checklist", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[]`)
	})
	syncer, _ := newTestSyncer(t, db, upstream.URL)

	result, err := syncer.Run(context.Background(), Trigger{By: models.SyncTriggeredManual})
	require.Error(t, err)
	assert.Nil(t, result)

	assert.Equal(t, 1, upstream.Hits("/v1/work-orders"))
	assert.Equal(t, 3, upstream.Hits("/v1/issues"))
	assert.Equal(t, 0, upstream.Hits("/v1/checklist"), "domains after the failed one are skipped")

	runs, err := models.GetRecentSyncRuns(context.Background(), db, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.SyncRunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].ErrorMessage, "issues")
	assert.Nil(t, runs[0].NewOrders)
	assert.Nil(t, runs[0].UpdatedIssues)
	assert.Nil(t, runs[0].CompletedAt)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	db := newTestDB(t)
	upstream := newFakeUpstream(t)
	serveHappyUpstream(upstream)
	lease := NewLocalLease()
	syncer, _ := newTestSyncer(t, db, upstream.URL, WithLease(lease))

	release, err := lease.Acquire(context.Background(), "lock:cloudfleet-sync", time.Minute)
	require.NoError(t, err)

	_, err = syncer.Run(context.Background(), Trigger{By: models.SyncTriggeredManual})
	assert.ErrorIs(t, err, ErrRunInProgress)
	require.NoError(t, release(context.Background()))

	var runs int64
	db.Model(&models.SyncRun{}).Count(&runs)
	assert.Zero(t, runs, "a rejected run leaves no log row")
	assert.Zero(t, upstream.Hits("/v1/work-orders"))

	_, err = syncer.Run(context.Background(), Trigger{By: models.SyncTriggeredManual})
	assert.NoError(t, err)
}

func TestSyncDomainContinuesAfterStoreRejectsARecord(t *testing.T) {
	db := newTestDB(t)
	upstream := newFakeUpstream(t)
	serveHappyUpstream(upstream)
	syncer, _ := newTestSyncer(t, db, upstream.URL)

	// make the store reject issue 1 only
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:reject_issue_1", func(tx *gorm.DB) {
		if issue, ok := tx.Statement.Dest.(*models.Issue); ok && issue.Number == 1 {
			_ = tx.AddError(assert.AnError)
		}
	}))

	stats, err := syncer.SyncDomain(context.Background(), 1, DomainIssues)
	require.NoError(t, err)
	assert.Equal(t, Stats{New: 1, Errors: 2}, stats)

	syncErrors, err := models.GetSyncErrors(context.Background(), db, 1)
	require.NoError(t, err)
	require.Len(t, syncErrors, 2)
	assert.Equal(t, "1", syncErrors[0].NaturalKey)
	assert.Equal(t, CodeReconcileFailed, syncErrors[0].ErrorCode)
	assert.True(t, syncErrors[0].Retryable)
}

func TestRetriedDomainKeepsOneErrorPerFailedRecord(t *testing.T) {
	db := newTestDB(t)
	upstream := newFakeUpstream(t)
	var mu sync.Mutex
	secondPageCalls := 0
	upstream.mux.HandleFunc("/v1/work-orders", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			w.Header().Set(headerNextPage, "2")
			writeJSON(w, http.StatusOK, `[{"number":0}]`)
			return
		}
		mu.Lock()
		secondPageCalls++
		calls := secondPageCalls
		mu.Unlock()
		if calls == 1 {
			writeJSON(w, http.StatusBadGateway, `{"message":"try again"}`)
			return
		}
		writeJSON(w, http.StatusOK, `[]`)
	})
	upstream.mux.HandleFunc("/v1/issues", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[]`)
	})
	upstream.mux.HandleFunc("/v1/checklist", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[]`)
	})
	syncer, _ := newTestSyncer(t, db, upstream.URL)

	result, err := syncer.Run(context.Background(), Trigger{By: models.SyncTriggeredManual})
	require.NoError(t, err)
	assert.Equal(t, Stats{Errors: 1}, result.Stats.Orders)
	assert.Equal(t, 4, upstream.Hits("/v1/work-orders"), "two attempts of two pages each")

	syncErrors, err := models.GetSyncErrors(context.Background(), db, result.RunId)
	require.NoError(t, err)
	require.Len(t, syncErrors, 1)
	assert.Equal(t, "0", syncErrors[0].NaturalKey)
}

func TestDetailDelayOnlySeparatesDetailCalls(t *testing.T) {
	tests := []struct {
		name  string
		page  string
		want  []time.Duration
		calls int
	}{
		{name: "invalid record between two details", page: `[{"number":100},{"number":0},{"number":101}]`, want: []time.Duration{2 * time.Second}, calls: 2},
		{name: "invalid record last", page: `[{"number":100},{"number":0}]`, want: nil, calls: 1},
		{name: "invalid record first", page: `[{"number":0},{"number":100}]`, want: nil, calls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			upstream := newFakeUpstream(t)
			serveHappyUpstream(upstream)
			page := tt.page
			upstream.mux.HandleFunc("/v1/work-orders", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, page)
			})
			syncer, sleeper := newTestSyncer(t, db, upstream.URL)

			if _, err := syncer.SyncDomain(context.Background(), 1, DomainOrders); err != nil {
				t.Fatalf("SyncDomain() error = %v", err)
			}
			if got := sleeper.Calls(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("sleeps = %v, want %v", got, tt.want)
			}
			if got := upstream.Hits("/v1/work-orders/100") + upstream.Hits("/v1/work-orders/101"); got != tt.calls {
				t.Fatalf("detail calls = %d, want %d", got, tt.calls)
			}
		})
	}
}
