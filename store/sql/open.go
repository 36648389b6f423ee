package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ConnectionConfig satisfies the go-persistence-bun config contract.
type ConnectionConfig struct {
	Driver         string
	DSN            string
	Debug          bool
	PingTimeout    time.Duration
	OtelIdentifier string
}

func (c ConnectionConfig) GetDebug() bool {
	return c.Debug
}

func (c ConnectionConfig) GetDriver() string {
	return c.Driver
}

func (c ConnectionConfig) GetServer() string {
	return c.DSN
}

func (c ConnectionConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c ConnectionConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return "go-fulfillment"
	}
	return c.OtelIdentifier
}

// Open returns a persistence client for cfg.Driver. Migrations are not
// applied; register them with the migrations package.
func Open(cfg ConnectionConfig) (*persistence.Client, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverPostgres, "pg":
		cfg.Driver = DriverPostgres
		sqlDB, err := sql.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
		}
		client, err := persistence.New(cfg, sqlDB, pgdialect.New())
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return client, nil
	case DriverSQLite, "sqlite":
		cfg.Driver = DriverSQLite
		sqlDB, err := sql.Open(DriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
}

func OpenPostgres(dsn string) (*persistence.Client, error) {
	return Open(ConnectionConfig{Driver: DriverPostgres, DSN: dsn})
}

// OpenSQLite opens a single connection sqlite client, which is what the
// in-memory test databases need.
func OpenSQLite(dsn string) (*persistence.Client, error) {
	return Open(ConnectionConfig{Driver: DriverSQLite, DSN: dsn})
}
