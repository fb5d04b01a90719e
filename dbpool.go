package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// DBPool is a fixed-size pool of live *sql.Conn handles, leased out
// through a counting semaphore: N handles are opened eagerly at
// construction, acquire/release are mutex-guarded, and the semaphore
// bounds concurrent outstanding leases.
type DBPool struct {
	db  *sql.DB
	sem *Semaphore
	mu  Mutex
	free []*sql.Conn

	max int
	log *zap.Logger
}

// DBPoolConfig carries the DSN components and pool size.
type DBPoolConfig struct {
	Host, User, Password, Database string
	Port                           uint16
	MaxConn                        uint32
}

// NewDBPool opens the underlying *sql.DB and eagerly establishes MaxConn
// live connections. Failure to establish any of them is fatal: a server
// that cannot reach its user table at startup should not accept traffic.
func NewDBPool(ctx context.Context, cfg DBPoolConfig, log *zap.Logger) (*DBPool, error) {
	if cfg.MaxConn == 0 {
		return nil, fmt.Errorf("dbpool: max connections must be positive")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}
	// database/sql's own pool is disabled in favor of the explicit
	// semaphore-bounded free list below: exactly MaxConn live handles,
	// leased one at a time.
	db.SetMaxOpenConns(int(cfg.MaxConn))
	db.SetMaxIdleConns(int(cfg.MaxConn))

	p := &DBPool{
		db:  db,
		sem: NewSemaphore(int(cfg.MaxConn)),
		max: int(cfg.MaxConn),
		log: log,
	}

	for i := uint32(0); i < cfg.MaxConn; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			p.closeAll()
			return nil, fmt.Errorf("dbpool: eager connection %d/%d: %w", i+1, cfg.MaxConn, err)
		}
		p.free = append(p.free, conn)
	}

	log.Info("db pool initialized", zap.Int("max_conn", p.max))
	return p, nil
}

func (p *DBPool) closeAll() {
	for _, c := range p.free {
		_ = c.Close()
	}
	p.free = nil
	_ = p.db.Close()
}

// LeasedConn is a scoped DB handle guaranteeing Release is safe to call
// more than once and safe to defer immediately after Lease succeeds.
type LeasedConn struct {
	pool     *DBPool
	conn     *sql.Conn
	released bool
}

// Conn exposes the underlying *sql.Conn for queries.
func (l *LeasedConn) Conn() *sql.Conn { return l.conn }

// Release returns the handle to the pool. Safe to call multiple times and
// safe to defer unconditionally.
func (l *LeasedConn) Release() {
	if l.released {
		return
	}
	l.released = true
	l.pool.release(l.conn)
}

// Lease blocks on the pool's semaphore until a handle is available, ctx is
// done, or the pool is shutting down.
func (p *DBPool) Lease(ctx context.Context) (*LeasedConn, error) {
	if err := p.sem.Acquire(ctx); err != nil {
		return nil, err
	}
	var conn *sql.Conn
	p.mu.WithLock(func() {
		if len(p.free) > 0 {
			conn = p.free[len(p.free)-1]
			p.free = p.free[:len(p.free)-1]
		}
	})
	if conn == nil {
		// Should be unreachable: sem.Acquire only succeeds once a matching
		// free-list entry exists, mirroring the invariant that leased +
		// free handles always equal max.
		p.sem.Release()
		return nil, fmt.Errorf("dbpool: semaphore/free-list desync")
	}
	return &LeasedConn{pool: p, conn: conn}, nil
}

func (p *DBPool) release(conn *sql.Conn) {
	p.mu.WithLock(func() {
		p.free = append(p.free, conn)
	})
	p.sem.Release()
}

// InUse reports the number of currently leased handles, for the metrics gauges.
func (p *DBPool) InUse() int {
	free := 0
	p.mu.WithLock(func() { free = len(p.free) })
	return p.max - free
}

// Max reports the pool's configured maximum, for the metrics gauges.
func (p *DBPool) Max() int { return p.max }

// Close releases all handles and closes the underlying *sql.DB. Intended
// for graceful shutdown only; callers must ensure no leases are
// outstanding.
func (p *DBPool) Close() error {
	p.closeAll()
	return nil
}
