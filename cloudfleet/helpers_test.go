package cloudfleet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/config"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// recordingSleeper returns immediately and remembers every requested delay.
type recordingSleeper struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

// openTestDB returns an empty in-memory database with the store plugins installed.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	config.InstallPlugins(db)
	return db
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := openTestDB(t)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func testOptions(baseURL string) config.SyncOptions {
	return config.SyncOptions{
		BaseURL:                 baseURL,
		APIKey:                  "test-key",
		HTTPTimeout:             5 * time.Second,
		PageDelay:               2 * time.Second,
		DetailDelay:             2 * time.Second,
		MaxAttempts:             3,
		FallbackMonths:          1,
		Location:                time.UTC,
		CountUnchangedAsUpdated: true,
	}
}

// fakeUpstream is a CloudFleet stand-in that counts requests per path.
type fakeUpstream struct {
	*httptest.Server
	mux *http.ServeMux

	mu       sync.Mutex
	hits     map[string]int
	requests []*http.Request
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{mux: http.NewServeMux(), hits: map[string]int{}}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.hits[r.URL.Path]++
		f.requests = append(f.requests, r.Clone(context.Background()))
		f.mu.Unlock()
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeUpstream) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

// FirstRequest returns the first request received for path, or nil.
func (f *fakeUpstream) FirstRequest(path string) *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.URL.Path == path {
			return r
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
