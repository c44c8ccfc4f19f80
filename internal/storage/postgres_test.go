package storage

import (
	"context"
	"os"
	"strconv"
	"testing"
)

// setupTestPostgres creates a test database connection.
// Returns nil if no PostgreSQL connection is available.
func setupTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()

	cfg := DefaultConfig().Postgres
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Database = v
	}

	ctx := context.Background()
	pg, err := OpenPostgres(ctx, cfg)
	if err != nil {
		return nil
	}

	// Ensure schema exists.
	if err := pg.CreateSchema(ctx); err != nil {
		pg.Close()
		return nil
	}

	return pg
}

func cleanupPostgres(pg *PostgresDB) {
	ctx := context.Background()
	_, _ = pg.pool.Exec(ctx, `DELETE FROM airport WHERE iata_code LIKE 'ZZ%'`)
	_, _ = pg.pool.Exec(ctx, `DELETE FROM aircraft WHERE registration LIKE 'TEST-%'`)
	_, _ = pg.pool.Exec(ctx, `DELETE FROM flights WHERE flight_id LIKE 'TEST-%'`)
	_, _ = pg.pool.Exec(ctx, `DELETE FROM airport_delays WHERE airport_code LIKE 'ZZ%'`)
}

func TestPostgresGateway(t *testing.T) {
	pg := setupTestPostgres(t)
	if pg == nil {
		t.Skip("No PostgreSQL connection available")
	}
	defer pg.Close()

	cleanupPostgres(pg)
	defer cleanupPostgres(pg)

	runGatewaySuite(t, pg)
}

func TestPostgresSQLHandle(t *testing.T) {
	pg := setupTestPostgres(t)
	if pg == nil {
		t.Skip("No PostgreSQL connection available")
	}
	defer pg.Close()

	db, dialect := pg.SQL()
	if dialect != DialectPostgres {
		t.Errorf("expected postgres dialect, got %q", dialect)
	}
	var one int
	if err := db.QueryRow("SELECT 1").Scan(&one); err != nil {
		t.Fatalf("query through database/sql: %v", err)
	}
	if one != 1 {
		t.Errorf("expected 1, got %d", one)
	}
}
