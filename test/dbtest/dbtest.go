// Package dbtest provides a shared testcontainers-backed Postgres instance
// for internal/store's repository tests, grounded on test/util's shared
// container pattern.
package dbtest

import (
	"context"
	stdsql "database/sql"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/frankbria/codeframe-sub003/internal/store"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// NewDB starts (once per test binary) a shared Postgres testcontainer,
// creates a fresh schema for this test, applies migrations into it, and
// returns a *store.DB pointed at that schema. The schema is dropped via
// t.Cleanup.
func NewDB(t *testing.T) *store.DB {
	t.Helper()
	ctx := context.Background()

	baseConnStr := sharedConnString(t)
	schemaName := generateSchemaName(t)

	admin, err := stdsql.Open("pgx", baseConnStr)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	_ = admin.Close()

	connStrWithSchema := addSearchPath(baseConnStr, schemaName)
	conn, err := stdsql.Open("pgx", connStrWithSchema)
	require.NoError(t, err)
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)

	// store.Open's dsn-building path assumes discrete fields; for the
	// already-built test DSN we instead wrap the connection directly and
	// drive migrations the same way Open does internally.
	db := store.NewFromConn(conn)
	require.NoError(t, store.ApplyMigrations(conn, schemaName))

	t.Cleanup(func() {
		cleanup, err := stdsql.Open("pgx", baseConnStr)
		if err != nil {
			t.Logf("dbtest: warning: could not connect to drop schema %s: %v", schemaName, err)
			return
		}
		defer func() { _ = cleanup.Close() }()
		_, err = cleanup.ExecContext(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
		if err != nil {
			t.Logf("dbtest: warning: failed to drop schema %s: %v", schemaName, err)
		}
		_ = conn.Close()
	})

	return db
}

func sharedConnString(t *testing.T) string {
	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("dbtest: starting shared postgres testcontainer")

		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("codeframe_test"),
			postgres.WithUsername("codeframe"),
			postgres.WithPassword("codeframe"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres container: %w", err)
			return
		}

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("get connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})

	require.NoError(t, containerErr, "failed to set up shared test container")
	return sharedConnStr
}

func generateSchemaName(t *testing.T) string {
	testName := strings.ToLower(t.Name())
	testName = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, testName)
	if len(testName) > 40 {
		testName = testName[:40]
	}

	randomBytes := make([]byte, 4)
	_, err := rand.Read(randomBytes)
	require.NoError(t, err)

	return fmt.Sprintf("test_%s_%s", testName, hex.EncodeToString(randomBytes))
}

func addSearchPath(connStr, schemaName string) string {
	separator := "?"
	if strings.Contains(connStr, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s", connStr, separator, schemaName)
}
