package migrate_test

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/creatorpay-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestMigrationDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate dir: %v", err)
	}
}

func TestSubscriptionsMigrationGuardsOpenSubscriptions(t *testing.T) {
	content := readMigration(t, "create_subscriptions")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS subscriptions",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_open",
		"WHERE status IN ('PENDING', 'TRIAL', 'ACTIVE')",
		"CHECK (subscriber_id <> creator_id)",
		"version integer NOT NULL DEFAULT 0",
		"DROP TABLE IF EXISTS subscriptions",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestLedgerMigrationIsAppendOnly(t *testing.T) {
	content := readMigration(t, "create_ledger_events")
	checks := []string{
		"CONSTRAINT ux_ledger_events_source UNIQUE (source_event_id)",
		"type ledger_event_type_enum NOT NULL",
		"BEFORE UPDATE OR DELETE ON ledger_events",
		"DROP TABLE IF EXISTS ledger_events",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestEnumMigrationMatchesModelTypes(t *testing.T) {
	content := readMigration(t, "create_enums")
	for _, name := range []string{
		"billing_period", "subscription_status", "payment_method", "payment_status",
		"funding_type", "purchase_status", "tip_status", "payout_status", "payout_method",
		"ledger_event_type_enum", "event_type_enum", "aggregate_type_enum", "outbox_dlq_error_reason_enum",
	} {
		if !strings.Contains(content, "CREATE TYPE "+name+" AS ENUM") {
			t.Errorf("missing enum %s", name)
		}
		if !strings.Contains(content, "DROP TYPE IF EXISTS "+name+";") {
			t.Errorf("missing rollback for %s", name)
		}
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Payout Holds!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_payout_holds.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	embedded, err := fs.Glob(migrate.Embedded(), "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	if len(embedded) != len(onDisk) || len(embedded) == 0 {
		t.Fatalf("embedded %d migrations, disk has %d", len(embedded), len(onDisk))
	}
	for i, path := range onDisk {
		if filepath.Base(path) != embedded[i] {
			t.Fatalf("embedded %s does not match %s", embedded[i], path)
		}
	}
}

func TestMigrateToVersionRejectsMalformedTarget(t *testing.T) {
	if err := migrate.MigrateToVersion(context.Background(), &sql.DB{}, migrate.DefaultDir, "2026"); err == nil {
		t.Fatalf("expected malformed version to fail")
	}
}
