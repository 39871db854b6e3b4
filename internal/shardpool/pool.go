// Package shardpool keeps one reusable database/sql pool per shard
// database, created on first use and shared by every query that targets
// that shard.
package shardpool

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"go.uber.org/multierr"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/kartikbazzad/catopus/internal/registry"
)

var ErrClosed = errors.New("shard pool manager is closed")

// Credentials are the read-only login shared by every shard database.
type Credentials struct {
	User     string
	Password string
}

// Options configures the per-shard pools.
type Options struct {
	MaxOpen     int           // open connections per shard (pool size + overflow)
	MaxIdle     int           // idle connections kept per shard
	MaxLifetime time.Duration // recycle connections older than this
}

// DefaultOptions mirrors a pool of 5 with 10 overflow connections.
func DefaultOptions() Options {
	return Options{
		MaxOpen:     15,
		MaxIdle:     5,
		MaxLifetime: 30 * time.Minute,
	}
}

// OpenFunc opens the pool for one shard.
type OpenFunc func(shard registry.Shard) (*sql.DB, error)

type entry struct {
	db       *sql.DB
	initDone chan struct{}
	initErr  error
}

// Manager maps shard name → pool.
type Manager struct {
	pools  sync.Map // shard name (string) → *entry
	open   OpenFunc
	closed atomic.Bool
}

// NewManager creates a manager that opens pools with the given credentials.
func NewManager(creds Credentials, opts Options) *Manager {
	return NewManagerWithOpener(func(shard registry.Shard) (*sql.DB, error) {
		return Open(shard, creds, opts)
	})
}

// NewManagerWithOpener creates a manager with a custom opener.
func NewManagerWithOpener(open OpenFunc) *Manager {
	return &Manager{open: open}
}

// DSN builds the data source name for a shard.
func DSN(shard registry.Shard, creds Credentials) (string, error) {
	switch shard.Driver {
	case "pgx", "postgres", "":
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(creds.User, creds.Password),
			Host:     fmt.Sprintf("%s:%d", shard.Host, shard.Port),
			Path:     "/" + shard.Name,
			RawQuery: "sslmode=disable",
		}
		return u.String(), nil
	case "sqlite":
		// Host is the directory holding one <shard>.db file per shard.
		return "file:" + filepath.Join(shard.Host, shard.Name+".db") + "?mode=ro", nil
	default:
		return "", fmt.Errorf("unsupported shard driver %q", shard.Driver)
	}
}

// Open creates a sized pool for one shard. Connections are established lazily.
func Open(shard registry.Shard, creds Credentials, opts Options) (*sql.DB, error) {
	dsn, err := DSN(shard, creds)
	if err != nil {
		return nil, err
	}
	driver := shard.Driver
	if driver == "" || driver == "postgres" {
		driver = "pgx"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool for shard %s: %w", shard.Name, err)
	}
	db.SetMaxOpenConns(opts.MaxOpen)
	db.SetMaxIdleConns(opts.MaxIdle)
	db.SetConnMaxLifetime(opts.MaxLifetime)
	return db, nil
}

// Acquire returns the pool for shard, creating it on first use. Concurrent
// first calls for the same shard share one initialisation.
func (m *Manager) Acquire(shard registry.Shard) (*sql.DB, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	if val, ok := m.pools.Load(shard.Name); ok {
		e := val.(*entry)
		<-e.initDone
		if e.initErr != nil {
			return nil, e.initErr
		}
		return e.db, nil
	}

	fresh := &entry{initDone: make(chan struct{})}
	val, loaded := m.pools.LoadOrStore(shard.Name, fresh)
	e := val.(*entry)
	if loaded {
		<-e.initDone
		if e.initErr != nil {
			return nil, e.initErr
		}
		return e.db, nil
	}

	db, err := m.open(shard)
	if err != nil {
		e.initErr = err
		m.pools.Delete(shard.Name) // allow a later retry
		close(e.initDone)
		return nil, err
	}
	e.db = db
	close(e.initDone)

	// Close raced with the initialisation above and may have missed this
	// entry. sql.DB.Close is idempotent.
	if m.closed.Load() {
		m.pools.Delete(shard.Name)
		db.Close()
		return nil, ErrClosed
	}
	return db, nil
}

// Stats returns pool statistics per shard name.
func (m *Manager) Stats() map[string]sql.DBStats {
	out := make(map[string]sql.DBStats)
	m.pools.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		select {
		case <-e.initDone:
			if e.db != nil {
				out[key.(string)] = e.db.Stats()
			}
		default:
		}
		return true
	})
	return out
}

// Close closes every pool. Further Acquire calls fail with ErrClosed.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	m.pools.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		<-e.initDone
		if e.db != nil {
			err = multierr.Append(err, e.db.Close())
		}
		m.pools.Delete(key)
		return true
	})
	return err
}
