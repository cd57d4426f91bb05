package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	// Registers the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/target/fleetpush/internal/migrate"
)

// fleetTables lists every data table, children first.
var fleetTables = []string{
	"audit_events",
	"followup_checks",
	"configuration_history",
	"job_outcomes",
	"push_attempts",
	"jobs",
	"device_state_history",
	"devices",
	"sites",
}

// testDSN builds the connection string for the integration database. TEST_DB_URL wins over
// the individual TEST_DB_* parts, which default to the docker-compose test profile.
func testDSN() string {
	if raw := strings.TrimSpace(os.Getenv("TEST_DB_URL")); raw != "" {
		return raw
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(envOr("TEST_DB_USER", "fleetpush"), envOr("TEST_DB_PASSWORD", "fleetpush")),
		Host:   net.JoinHostPort(envOr("TEST_DB_HOST", "localhost"), envOr("TEST_DB_PORT", "55432")),
		Path:   "/" + envOr("TEST_DB_NAME", "fleetpush"),
	}
	q := url.Values{}
	q.Set("sslmode", envOr("DB_SSL_MODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("search_path", schema+",public")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func openAndPing(dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SkipIfNoTestDB skips t when the integration database cannot be reached. With
// TEST_REQUIRE_DB or TEST_REQUIRE_INFRA set the test fails instead.
func SkipIfNoTestDB(t testing.TB) {
	t.Helper()
	db, err := openAndPing(testDSN(), 2*time.Second)
	if err != nil {
		if requireDB() {
			t.Fatalf("test database not available: %v", err)
		}
		t.Skipf("test database not available: %v", err)
	}
	closeQuietly(t, "probe db", db)
}

// WithAutoDB runs fn against a migrated, empty database. By default each call gets a
// private schema that is dropped afterwards. TEST_DB_SHARED runs against the public schema
// and truncates the fleet tables before and after fn.
func WithAutoDB(t testing.TB, fn func(*sql.DB)) {
	t.Helper()
	SkipIfNoTestDB(t)
	if envBool("TEST_DB_SHARED") {
		fn(sharedDB(t))
		return
	}
	fn(schemaDB(t))
}

func sharedDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := openAndPing(testDSN(), 5*time.Second)
	if err != nil {
		t.Fatalf("open shared test db: %v", err)
	}
	migrateOrFail(t, db)
	truncateFleet(t, db)
	t.Cleanup(func() {
		truncateFleet(t, db)
		closeQuietly(t, "shared db", db)
	})
	return db
}

func schemaDB(t testing.TB) *sql.DB {
	t.Helper()
	admin, err := openAndPing(testDSN(), 5*time.Second)
	if err != nil {
		t.Fatalf("open admin db: %v", err)
	}
	schema := "t_" + randomHex(4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err = admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		closeQuietly(t, "admin db", admin)
		t.Fatalf("create schema %s: %v", schema, err)
	}

	var db *sql.DB
	t.Cleanup(func() {
		if db != nil {
			closeQuietly(t, "schema db", db)
		}
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dropCancel()
		if _, dropErr := admin.ExecContext(dropCtx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); dropErr != nil {
			t.Logf("drop schema %s: %v", schema, dropErr)
		}
		closeQuietly(t, "admin db", admin)
	})

	dsn, err := withSearchPath(testDSN(), schema)
	if err != nil {
		t.Fatalf("scope dsn to %s: %v", schema, err)
	}
	if db, err = openAndPing(dsn, 10*time.Second); err != nil {
		t.Fatalf("open schema db: %v", err)
	}
	db.SetMaxOpenConns(10)
	migrateOrFail(t, db)
	return db
}

func migrateOrFail(t testing.TB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
}

func truncateFleet(t testing.TB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "TRUNCATE "+strings.Join(fleetTables, ", ")+" CASCADE"); err != nil {
		t.Fatalf("truncate fleet tables: %v", err)
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func closeQuietly(t testing.TB, name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		t.Logf("close %s: %v", name, err)
	}
}
