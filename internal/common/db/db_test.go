package db

import (
	"errors"
	"testing"
	"time"
)

func TestCurrentDatabase(t *testing.T) {
	if _, err := CurrentDatabase(nil); !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("nil provider: expected ErrNoDatabase, got %v", err)
	}
	if _, err := CurrentDatabase(NewStaticProvider(nil)); !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("empty provider: expected ErrNoDatabase, got %v", err)
	}
	m := &MySQL{}
	got, err := CurrentDatabase(NewStaticProvider(m))
	if err != nil || got != Database(m) {
		t.Fatalf("expected configured database, got %v %v", got, err)
	}
}

func TestMySQLConnectorPinsParseTime(t *testing.T) {
	cfg := MySQLConfig{DSN: "nodeo:secret@tcp(db:3306)/nodeo"}.withDefaults()
	if cfg.MaxOpenConnections != 25 || cfg.DialTimeout != 5*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if _, err := cfg.connector(); err != nil {
		t.Fatalf("connector: %v", err)
	}
	if _, err := (MySQLConfig{DSN: "not a dsn"}).connector(); err == nil {
		t.Fatalf("expected dsn parse error")
	}
	if _, err := NewMySQLWithConfig(&MySQLConfig{}); err == nil {
		t.Fatalf("expected error without dsn")
	}
}
