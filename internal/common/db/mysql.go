package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLConfig configures the history database pool.
type MySQLConfig struct {
	// DSN in go-sql-driver format, e.g. "user:pass@tcp(host:3306)/nodeo".
	DSN string `yaml:"dsn"`

	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
	DialTimeout        time.Duration `yaml:"dialTimeout"`
}

func (c MySQLConfig) withDefaults() MySQLConfig {
	if c.MaxOpenConnections == 0 {
		c.MaxOpenConnections = 25
	}
	if c.MaxIdleConnections == 0 {
		c.MaxIdleConnections = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// connector parses the DSN and pins the options the repositories rely on.
func (c MySQLConfig) connector() (driver.Connector, error) {
	cfg, err := mysql.ParseDSN(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Timeout == 0 {
		cfg.Timeout = c.DialTimeout
	}
	return mysql.NewConnector(cfg)
}

// MySQL implements Database over a database/sql pool.
type MySQL struct {
	sqlQuerier
	pool *sql.DB
}

// NewMySQLWithConfig opens a pool and fails unless the server answers a ping.
func NewMySQLWithConfig(config *MySQLConfig) (*MySQL, error) {
	if config == nil || config.DSN == "" {
		return nil, errors.New("mysql dsn is required")
	}
	cfg := config.withDefaults()
	connector, err := cfg.connector()
	if err != nil {
		return nil, err
	}

	pool := sql.OpenDB(connector)
	pool.SetMaxOpenConns(cfg.MaxOpenConnections)
	pool.SetMaxIdleConns(cfg.MaxIdleConnections)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &MySQL{sqlQuerier: sqlQuerier{pool}, pool: pool}, nil
}

// Transaction commits when fn returns nil and rolls back otherwise,
// including when fn panics.
func (m *MySQL) Transaction(ctx context.Context, fn func(tx Transaction) error) error {
	sqlTx, err := m.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&transaction{sqlQuerier: sqlQuerier{sqlTx}, tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (m *MySQL) Ping(ctx context.Context) error { return m.pool.PingContext(ctx) }

func (m *MySQL) Close() error { return m.pool.Close() }

type transaction struct {
	sqlQuerier
	tx *sql.Tx
}

func (t *transaction) Commit() error   { return t.tx.Commit() }
func (t *transaction) Rollback() error { return t.tx.Rollback() }

// sqlRunner is the part of *sql.DB and *sql.Tx that Querier needs.
type sqlRunner interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type sqlQuerier struct {
	run sqlRunner
}

func (q sqlQuerier) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := q.run.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

func (q sqlQuerier) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return q.run.QueryRowContext(ctx, query, args...)
}

func (q sqlQuerier) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	res, err := q.run.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	return res, nil
}
