// Package dbtest opens throwaway in-memory SQLite databases with the ledger schema
// so repositories can be exercised without Postgres.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/creatorpay-backend/pkg/db"
)

var schema = []string{
	`CREATE TABLE subscription_tiers (
		id TEXT PRIMARY KEY,
		creator_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		welcome_message TEXT,
		price_amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		billing_period TEXT NOT NULL,
		trial_days INTEGER NOT NULL DEFAULT 0,
		benefits TEXT,
		sort_order INTEGER NOT NULL DEFAULT 1,
		discount_percent INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		deleted_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE subscriptions (
		id TEXT PRIMARY KEY,
		subscriber_id TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		tier_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		billing_period TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date DATETIME,
		end_date DATETIME,
		cancelled_at DATETIME,
		cancellation_reason TEXT,
		auto_renew BOOLEAN NOT NULL DEFAULT 1,
		renewal_count INTEGER NOT NULL DEFAULT 0,
		payment_method TEXT NOT NULL,
		payment_method_ref TEXT,
		renewal_payment_id TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_subscriptions_open ON subscriptions (subscriber_id, creator_id)
		WHERE status IN ('PENDING', 'TRIAL', 'ACTIVE')`,
	`CREATE TABLE payments (
		id TEXT PRIMARY KEY,
		payer_id TEXT NOT NULL,
		payee_id TEXT NOT NULL,
		funding_type TEXT NOT NULL,
		funding_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		source_ref TEXT,
		gateway_payment_id TEXT,
		gateway_refund_id TEXT,
		failure_reason TEXT,
		description TEXT,
		ip_address TEXT,
		user_agent TEXT,
		settled_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE content_purchases (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		content_id TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		status TEXT NOT NULL,
		payment_id TEXT NOT NULL UNIQUE,
		expires_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE tips (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		message TEXT,
		is_anonymous BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		payment_id TEXT NOT NULL UNIQUE,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE payouts (
		id TEXT PRIMARY KEY,
		creator_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		status TEXT NOT NULL,
		method TEXT NOT NULL,
		external_payout_id TEXT,
		description TEXT,
		failure_reason TEXT,
		completed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE TABLE ledger_events (
		id TEXT PRIMARY KEY,
		source_event_id TEXT NOT NULL UNIQUE,
		payment_id TEXT NOT NULL,
		funding_type TEXT NOT NULL,
		funding_id TEXT NOT NULL,
		payer_id TEXT NOT NULL,
		payee_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		occurred_at DATETIME NOT NULL,
		metadata TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE contents (
		id TEXT PRIMARY KEY,
		creator_id TEXT NOT NULL,
		is_public BOOLEAN NOT NULL DEFAULT 0,
		required_tier_id TEXT
	)`,
	`CREATE TABLE blocks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		blocked_user_id TEXT NOT NULL,
		created_at DATETIME
	)`,
}

// Open returns a fresh schema in a database private to the calling test.
// The pool is pinned to one connection so concurrent transactions serialise
// instead of tripping SQLite's table locks.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

// Client wraps Open in the shared transaction runner.
func Client(t testing.TB) *db.Client {
	t.Helper()
	return db.NewFromGorm(Open(t))
}
