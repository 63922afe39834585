package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// InvoiceDueDays is the default distance between created_at and date_due.
//
// Set via env:
// - INVOICE_DUE_DAYS=14
func InvoiceDueDays() int {
	n := intFromEnv("INVOICE_DUE_DAYS", 14)
	if n < 0 {
		return 14
	}
	return n
}

// InvoiceNumberPrefix is stored on each invoice as number_prefix and used when formatting numbers.
func InvoiceNumberPrefix() string {
	return stringFromEnv("INVOICE_NUMBER_PREFIX", "INV-")
}

func DefaultCurrency() string {
	return strings.ToUpper(stringFromEnv("DEFAULT_CURRENCY", "USD"))
}

// DefaultPhoneRegion is the region used to parse phone numbers without a country code.
func DefaultPhoneRegion() string {
	return strings.ToUpper(stringFromEnv("DEFAULT_PHONE_REGION", "US"))
}

// LifecycleLockTTL bounds how long charge/mark_paid/send/sign hold a record lock.
//
// Set via env:
// - LIFECYCLE_LOCK_TTL_SECONDS=15
func LifecycleLockTTL() time.Duration {
	return time.Duration(intFromEnv("LIFECYCLE_LOCK_TTL_SECONDS", 15)) * time.Second
}

// ApiTokenCacheTTL is how long a resolved bearer token stays in redis.
func ApiTokenCacheTTL() time.Duration {
	return time.Duration(intFromEnv("API_TOKEN_CACHE_SECONDS", 300)) * time.Second
}

// ProposalArchiveBucket enables signed proposal archiving when non-empty.
func ProposalArchiveBucket() string {
	return stringFromEnv("PROPOSAL_ARCHIVE_BUCKET", "")
}

func OutboxEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OUTBOX_ENABLED")))
	if v == "" {
		return getPubSubProjectID() != ""
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// RateLimit reads the optional per-ip request limit.
//
// Set via env:
// - RATE_LIMIT_ENABLED=true
// - RATE_LIMIT_WINDOW_SECONDS=60
// - RATE_LIMIT_MAX_REQUESTS=600
func RateLimit() (enabled bool, limit int64, window time.Duration) {
	enabled = strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true")
	limit = int64(intFromEnv("RATE_LIMIT_MAX_REQUESTS", 600))
	if limit <= 0 {
		limit = 600
	}
	windowSec := intFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)
	if windowSec <= 0 {
		windowSec = 60
	}
	return enabled, limit, time.Duration(windowSec) * time.Second
}

// SkipMigrations disables AutoMigrate on startup so DDL can run as a separate job.
func SkipMigrations() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true")
}

// CorsAllowedOrigins is the production allowlist; nil outside production means allow all.
func CorsAllowedOrigins() (production bool, origins []string) {
	production = strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
	for _, p := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return production, origins
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func stringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
