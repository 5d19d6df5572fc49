package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	logx "studiorelay/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures document mirroring.
//
// Driver values:
//   - "file": one JSON file per document under Path (a directory)
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", mirroring is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the minimal persistence API used by the relay.
type Store interface {
	SaveDoc(ctx context.Context, name string, doc json.RawMessage) error
	LoadDoc(ctx context.Context, name string) (doc json.RawMessage, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
