package config

import (
	"os"
	"strings"
	"time"
)

const (
	DefaultCloudFleetBaseURL = "https://fleet.cloudfleet.com/api"
	DefaultSyncLockKey       = "lock:cloudfleet-sync"
)

// SyncOptions carries every tunable of the synchronization engine.
type SyncOptions struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration

	PageDelay   time.Duration
	DetailDelay time.Duration
	MaxAttempts int

	// FallbackMonths is how far back the window starts when a domain has no stored rows.
	FallbackMonths int
	Location       *time.Location

	// CountUnchangedAsUpdated keeps the historical behaviour of counting every re-seen record as updated.
	CountUnchangedAsUpdated bool

	LockKey string
	LockTTL time.Duration
}

// SyncOptionsFromEnv reads:
// - CLOUDFLEET_API_URL, CLOUDFLEET_API_KEY, CLOUDFLEET_HTTP_TIMEOUT_SECONDS (30)
// - SYNC_PAGE_DELAY_MS (2000), SYNC_DETAIL_DELAY_MS (2000), SYNC_MAX_ATTEMPTS (3)
// - SYNC_FALLBACK_MONTHS (1), SYNC_TIMEZONE (local)
// - SYNC_COUNT_UNCHANGED_AS_UPDATED (true), SYNC_LOCK_TTL_SECONDS (3600)
func SyncOptionsFromEnv() SyncOptions {
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("CLOUDFLEET_API_URL")), "/")
	if baseURL == "" {
		baseURL = DefaultCloudFleetBaseURL
	}

	loc := time.Local
	if tz := strings.TrimSpace(os.Getenv("SYNC_TIMEZONE")); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			GetLogger().WithField("timezone", tz).Warn("invalid SYNC_TIMEZONE, using local time")
		}
	}

	return SyncOptions{
		BaseURL:                 baseURL,
		APIKey:                  os.Getenv("CLOUDFLEET_API_KEY"),
		HTTPTimeout:             time.Duration(intFromEnv("CLOUDFLEET_HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		PageDelay:               time.Duration(intFromEnv("SYNC_PAGE_DELAY_MS", 2000)) * time.Millisecond,
		DetailDelay:             time.Duration(intFromEnv("SYNC_DETAIL_DELAY_MS", 2000)) * time.Millisecond,
		MaxAttempts:             intFromEnv("SYNC_MAX_ATTEMPTS", 3),
		FallbackMonths:          intFromEnv("SYNC_FALLBACK_MONTHS", 1),
		Location:                loc,
		CountUnchangedAsUpdated: envBoolDefault("SYNC_COUNT_UNCHANGED_AS_UPDATED", true),
		LockKey:                 DefaultSyncLockKey,
		LockTTL:                 time.Duration(intFromEnv("SYNC_LOCK_TTL_SECONDS", 3600)) * time.Second,
	}
}

func envBoolDefault(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	}
	return def
}

// SkipMigrations is set in environments where the schema is managed outside the service.
func SkipMigrations() bool {
	return envBoolDefault("SKIP_MIGRATIONS", false)
}

func CorsAllowedOrigins() []string {
	raw := os.Getenv("CORS_ALLOWED_ORIGINS")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
