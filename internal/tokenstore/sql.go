package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const tokenSlot = "access_token"

// dialect holds the statements that differ between SQL engines.
type dialect struct {
	driver      string
	dollarBinds bool
	upsert      string
}

var dialects = map[string]dialect{
	"sqlite": {
		driver: "sqlite",
		upsert: `INSERT INTO client_kv (slot, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	},
	"postgres": {
		driver:      "pgx",
		dollarBinds: true,
		upsert: `INSERT INTO client_kv (slot, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (slot) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
	},
	"mysql": {
		driver: "mysql",
		upsert: `INSERT INTO client_kv (slot, value, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`,
	},
}

const createKV = `CREATE TABLE IF NOT EXISTS client_kv (
	slot       VARCHAR(64) PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at VARCHAR(40) NOT NULL
)`

// bind rewrites ? placeholders to $n for engines that need it.
func (d dialect) bind(q string) string {
	if !d.dollarBinds {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLBackend keeps the slot as one row of a key/value table.
type SQLBackend struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLiteBackend opens (or creates) a local SQLite database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open token db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	return newSQLBackend(db, dialects["sqlite"])
}

// NewSQLBackend connects to a shared postgres or mysql database. The table is
// created on first use.
func NewSQLBackend(ctx context.Context, engine, dsn string) (*SQLBackend, error) {
	if engine == "postgresql" {
		engine = "postgres"
	}
	d, ok := dialects[engine]
	if !ok || engine == "sqlite" {
		return nil, fmt.Errorf("unsupported token database %q (want postgres or mysql)", engine)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open token db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to token db: %w", err)
	}
	return newSQLBackend(db, d)
}

func newSQLBackend(db *sql.DB, d dialect) (*SQLBackend, error) {
	if _, err := db.Exec(createKV); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create client_kv table: %w", err)
	}
	return &SQLBackend{db: db, dialect: d}, nil
}

func (b *SQLBackend) Load(ctx context.Context) (*Record, error) {
	var value string
	q := b.dialect.bind(`SELECT value FROM client_kv WHERE slot = ?`)
	if err := b.db.QueryRowContext(ctx, q, tokenSlot).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("load token: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, fmt.Errorf("parse stored token: %w", err)
	}
	return &rec, nil
}

func (b *SQLBackend) Save(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	_, err = b.db.ExecContext(ctx, b.dialect.bind(b.dialect.upsert),
		tokenSlot, string(value), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (b *SQLBackend) Delete(ctx context.Context) error {
	res, err := b.db.ExecContext(ctx, b.dialect.bind(`DELETE FROM client_kv WHERE slot = ?`), tokenSlot)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoToken
	}
	return nil
}

// Close closes the underlying DB.
func (b *SQLBackend) Close() error {
	return b.db.Close()
}
