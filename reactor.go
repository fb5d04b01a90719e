package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MaxFD bounds both the pre-allocated Connection arena and the accept
// rejection threshold.
const MaxFD = 65536

// Server is the top-level aggregate wiring every component together: the
// reactor owns references to the timer list, the worker pool draining the
// request queue, the DB pool, the users store, the rate limiter, metrics,
// and configuration.
type Server struct {
	Config      *Config
	Log         *zap.Logger
	AccessLog   *AccessLogger
	DBPool      *DBPool
	Users       *UsersStore
	RateLimiter RateLimiter
	Metrics     *Metrics
	Timers      *TimerList
	Queue       *BoundedQueue[*Connection]
	Workers     *WorkerPool

	conns [MaxFD]*Connection

	rearmCh chan rearmRequest
	stopCh  chan struct{}
	epfd    int
}

// rearmEvent selects which readiness the reactor should arm next for a
// descriptor: the mechanism by which a worker asks the single reactor
// goroutine to call epoll_ctl on its behalf.
type rearmEvent int

const (
	rearmReadable rearmEvent = iota
	rearmWritable
	rearmClose
)

type rearmRequest struct {
	fd    int
	event rearmEvent
}

// NewServer wires every component from cfg, eagerly establishing the DB
// pool and loading the users table. Failures here are treated as fatal
// configuration errors.
func NewServer(ctx context.Context, cfg *Config, log *zap.Logger) (*Server, error) {
	dbPool, err := NewDBPool(ctx, DBPoolConfig{
		Host:     cfg.DBHost,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		Port:     cfg.DBPort,
		MaxConn:  cfg.DBMaxConn,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("server: db pool: %w", err)
	}

	users, err := NewUsersStore(ctx, dbPool)
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("server: users: %w", err)
	}

	accessLog, err := NewAccessLogger(cfg.LogDir, cfg.LogStem, int(cfg.LogBufSize), cfg.SplitLines, cfg.LogQueueCap)
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("server: access logger: %w", err)
	}

	metrics := NewMetrics()
	rateLimiter := NewRateLimiter(ctx, cfg, log)
	metrics.RegisterSenderGauge(rateLimiter)

	s := &Server{
		Config:      cfg,
		Log:         log,
		AccessLog:   accessLog,
		DBPool:      dbPool,
		Users:       users,
		RateLimiter: rateLimiter,
		Metrics:     metrics,
		Timers:      NewTimerList(),
		Queue:       NewBoundedQueue[*Connection](int(cfg.QueueCapacity)),
		rearmCh:     make(chan rearmRequest, int(cfg.QueueCapacity)),
		stopCh:      make(chan struct{}),
	}
	s.Workers = NewWorkerPool(int(cfg.ThreadCount), s)

	for i := range s.conns {
		s.conns[i] = NewConnection()
	}
	return s, nil
}

// inactivityTimeout is InactivityMultiplier*TimeSlotSeconds.
func (s *Server) inactivityTimeout() time.Duration {
	return time.Duration(s.Config.InactivityMultiplier) * time.Duration(s.Config.TimeSlotSeconds) * time.Second
}

// timeSlot is the periodic alarm interval, TimeSlotSeconds.
func (s *Server) timeSlot() time.Duration {
	return time.Duration(s.Config.TimeSlotSeconds) * time.Second
}

// Process is a Connection's entry point as invoked by a worker pool
// goroutine: run the parser, stage a response if a full request was
// parsed, and request the reactor rearm the descriptor accordingly. It
// never touches epoll directly.
func (s *Server) Process(c *Connection) {
	start := time.Now()

	readRet := c.ProcessRead()
	if readRet == NoRequest {
		s.rearmCh <- rearmRequest{fd: c.Sockfd, event: rearmReadable}
		return
	}

	ok := c.ProcessWrite(readRet)
	s.Metrics.ObserveRequest(readRet, time.Since(start))
	s.AccessLog.Write([]byte(fmt.Sprintf("%s %s -> %s\n", c.method, c.realFile, statusLabel(readRet))))

	if !ok {
		s.rearmCh <- rearmRequest{fd: c.Sockfd, event: rearmClose}
		return
	}
	s.rearmCh <- rearmRequest{fd: c.Sockfd, event: rearmWritable}
}

// Shutdown signals the reactor loop to exit; callers should then wait for
// Run to return before tearing down the remaining components.
func (s *Server) Shutdown() {
	close(s.stopCh)
}

// Close releases every component's resources. Called after Run returns.
func (s *Server) Close() {
	s.Workers.Stop()
	s.DBPool.Close()
	s.RateLimiter.Close()
	s.AccessLog.Close()
}
