// Package dbtest opens throwaway sqlite databases carrying the service
// schema, plus seed and time-travel helpers for tests.
package dbtest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var seq atomic.Int64

var schema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		full_name TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE subscriptions (
		id BIGINT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_subscription_id TEXT NOT NULL,
		provider_customer_id TEXT NOT NULL DEFAULT '',
		plan_id TEXT NOT NULL DEFAULT 'unknown',
		status TEXT NOT NULL,
		current_period_start DATETIME,
		current_period_end DATETIME,
		trial_start DATETIME,
		trial_end DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_subscriptions_provider_subscription ON subscriptions(provider, provider_subscription_id)`,
	`CREATE TABLE subscription_addons (
		id BIGINT PRIMARY KEY,
		subscription_id BIGINT NOT NULL,
		addon_id TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_subscription_addons_addon ON subscription_addons(subscription_id, addon_id)`,
	`CREATE TABLE webhook_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_kind TEXT NOT NULL,
		object_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		received_at DATETIME NOT NULL,
		processed_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_webhook_events_provider_event ON webhook_events(provider, provider_event_id)`,
	`CREATE TABLE auto_reports (
		id BIGINT PRIMARY KEY,
		dedup_key TEXT NOT NULL,
		user_id TEXT NOT NULL,
		organization_id TEXT,
		report_type TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		status TEXT NOT NULL,
		artifact_ref TEXT,
		generated_at DATETIME,
		notification_id TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_auto_reports_dedup_key ON auto_reports(dedup_key)`,
	`CREATE TABLE report_artifacts (
		ref TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		file_name TEXT NOT NULL,
		size_bytes BIGINT NOT NULL,
		content BLOB NOT NULL,
		created_at DATETIME NOT NULL
	)`,
}

// Open returns an isolated in-memory database with the full schema.
// A single connection is kept so concurrent callers queue instead of
// failing with SQLITE_BUSY.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func SeedUser(t *testing.T, db *gorm.DB, id, email, fullName string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO users (id, email, full_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, email, fullName, time.Now().UTC(), time.Now().UTC(),
	).Error
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func SeedOrganization(t *testing.T, db *gorm.DB, id, name, ownerID string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO organizations (id, name, slug, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, id, ownerID, time.Now().UTC(), time.Now().UTC(),
	).Error
	if err != nil {
		t.Fatalf("seed organization: %v", err)
	}
}

// SeedSubscription inserts a stripe subscription row.
func SeedSubscription(t *testing.T, db *gorm.DB, id int64, userID, providerSubscriptionID, planID, status string) {
	t.Helper()
	now := time.Now().UTC()
	err := db.Exec(
		`INSERT INTO subscriptions (id, user_id, provider, provider_subscription_id, provider_customer_id, plan_id, status, created_at, updated_at)
		 VALUES (?, ?, 'stripe', ?, 'cus_test', ?, ?, ?, ?)`,
		id, userID, providerSubscriptionID, planID, status, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
}

// SeedWebhookEvent inserts a processed stripe ledger row about objectID.
func SeedWebhookEvent(t *testing.T, db *gorm.DB, id int64, eventID, kind, objectID string, receivedAt time.Time) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO webhook_events (id, provider, provider_event_id, event_kind, object_id, payload, processed, received_at, processed_at)
		 VALUES (?, 'stripe', ?, ?, ?, '{}', ?, ?, ?)`,
		id, eventID, kind, objectID, true, receivedAt.UTC(), receivedAt.UTC(),
	).Error
	if err != nil {
		t.Fatalf("seed webhook event: %v", err)
	}
}

// Count returns the number of rows in table matching where.
func Count(t *testing.T, db *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	var count int64
	q := db.Table(table)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

// Accelerator rewrites timestamps so time-based selection can be tested
// without sleeping.
type Accelerator struct {
	db *gorm.DB
}

func NewAccelerator(db *gorm.DB) *Accelerator {
	return &Accelerator{db: db}
}

// SetReportsUpdatedAt rewrites updated_at of every report in status.
func (a *Accelerator) SetReportsUpdatedAt(ctx context.Context, status string, at time.Time) (int64, error) {
	res := a.db.WithContext(ctx).Exec(
		`UPDATE auto_reports SET updated_at = ? WHERE status = ?`,
		at.UTC(),
		status,
	)
	return res.RowsAffected, res.Error
}
