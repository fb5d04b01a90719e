package main

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the configuration for the reactor HTTP server.
type Config struct {
	// ListenPort is the TCP port the reactor listens on.
	ListenPort uint16

	// DocRoot is the directory static files are served from.
	DocRoot string

	// DBHost, DBUser, DBPassword, DBName, DBPort address the MySQL instance
	// backing the users table.
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     uint16

	// DBMaxConn is the number of eagerly-opened connections in the pool.
	DBMaxConn uint32

	// ThreadCount is the number of worker goroutines.
	ThreadCount uint32

	// QueueCapacity bounds the request queue shared by the reactor and worker pool.
	QueueCapacity uint32

	// TimeSlotSeconds is the periodic alarm interval driving timer sweeps.
	TimeSlotSeconds uint32

	// InactivityMultiplier sets the idle timeout as a multiple of TimeSlotSeconds.
	InactivityMultiplier uint32

	// ReadBufSize and WriteBufSize size each Connection's fixed buffers.
	ReadBufSize  uint32
	WriteBufSize uint32

	// LogDir, LogStem, LogBufSize, SplitLines, LogQueueCap configure the
	// async access logger.
	LogDir      string
	LogStem     string
	LogBufSize  uint32
	SplitLines  uint64
	LogQueueCap uint32

	// MetricsListenAddr is the address the side metrics/health server
	// listens on.
	MetricsListenAddr string

	// RateLimitPerMinute and RateLimitPerHour bound login/register attempts
	// per (ip, username) key.
	RateLimitPerMinute int
	RateLimitPerHour   int

	// RateLimitRedisAddr, when set, backs the rate limiter with a shared
	// Redis sorted-set implementation instead of the in-memory default.
	RateLimitRedisAddr string
}

// NewConfig builds a Config from environment variables, falling back to
// hardcoded defaults for anything unset.
func NewConfig(port uint16) (*Config, error) {
	if port == 0 {
		return nil, fmt.Errorf("listen port is required")
	}

	docRoot := os.Getenv("DOC_ROOT")
	if docRoot == "" {
		docRoot = "./root"
	}

	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "127.0.0.1"
	}

	dbUser := os.Getenv("DB_USER")
	if dbUser == "" {
		dbUser = "webserver"
	}

	dbPassword := os.Getenv("DB_PASSWORD")

	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "webserver"
	}

	dbPort, err := envUint16("DB_PORT", 3306)
	if err != nil {
		return nil, err
	}

	dbMaxConn, err := envUint32("DB_MAX_CONN", 8)
	if err != nil {
		return nil, err
	}

	threadCount, err := envUint32("THREAD_COUNT", 8)
	if err != nil {
		return nil, err
	}

	queueCapacity, err := envUint32("QUEUE_CAPACITY", 10000)
	if err != nil {
		return nil, err
	}

	timeSlot, err := envUint32("TIMESLOT_SECONDS", 5)
	if err != nil {
		return nil, err
	}

	inactivityMultiplier, err := envUint32("INACTIVITY_MULTIPLIER", 3)
	if err != nil {
		return nil, err
	}

	readBuf, err := envUint32("READ_BUF", 2048)
	if err != nil {
		return nil, err
	}

	writeBuf, err := envUint32("WRITE_BUF", 1024)
	if err != nil {
		return nil, err
	}

	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "./logs"
	}

	logStem := os.Getenv("LOG_STEM")
	if logStem == "" {
		logStem = "webserver"
	}

	logBuf, err := envUint32("LOG_BUF", 2000)
	if err != nil {
		return nil, err
	}

	splitLines, err := envUint64("SPLIT_LINES", 800000)
	if err != nil {
		return nil, err
	}

	logQueueCap, err := envUint32("LOG_QUEUE_CAP", 8)
	if err != nil {
		return nil, err
	}

	metricsListenAddr := os.Getenv("METRICS_LISTEN_ADDR")
	if metricsListenAddr == "" {
		metricsListenAddr = ":9090"
	}

	rateLimitPerMinute, err := envInt("RATE_LIMIT_PER_MINUTE", 5)
	if err != nil {
		return nil, err
	}

	rateLimitPerHour, err := envInt("RATE_LIMIT_PER_HOUR", 30)
	if err != nil {
		return nil, err
	}

	rateLimitRedisAddr := os.Getenv("RATE_LIMIT_REDIS_ADDR")

	return &Config{
		ListenPort:           port,
		DocRoot:              docRoot,
		DBHost:               dbHost,
		DBUser:               dbUser,
		DBPassword:           dbPassword,
		DBName:               dbName,
		DBPort:               dbPort,
		DBMaxConn:            dbMaxConn,
		ThreadCount:          threadCount,
		QueueCapacity:        queueCapacity,
		TimeSlotSeconds:      timeSlot,
		InactivityMultiplier: inactivityMultiplier,
		ReadBufSize:          readBuf,
		WriteBufSize:         writeBuf,
		LogDir:               logDir,
		LogStem:              logStem,
		LogBufSize:           logBuf,
		SplitLines:           splitLines,
		LogQueueCap:          logQueueCap,
		MetricsListenAddr:    metricsListenAddr,
		RateLimitPerMinute:   rateLimitPerMinute,
		RateLimitPerHour:     rateLimitPerHour,
		RateLimitRedisAddr:   rateLimitRedisAddr,
	}, nil
}

func envUint16(name string, def uint16) (uint16, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return uint16(n), nil
}

func envUint32(name string, def uint32) (uint32, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return uint32(n), nil
}

func envUint64(name string, def uint64) (uint64, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}
