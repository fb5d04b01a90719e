package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AccessLogger is the async, day/line-rotated logger. A dedicated
// writer goroutine drains a bounded queue and appends to the current
// log file, rotating when the wall-clock day changes or the line count
// crosses a multiple of splitLines. It is exposed as a zapcore.Core so
// callers compose it with the ambient zap.Logger via zapcore.NewTee.
type AccessLogger struct {
	queue *BoundedQueue[string]

	dir  string
	stem string

	splitLines uint64

	mu       sync.Mutex
	file     *os.File
	today    string
	seq      int
	lineCnt  uint64
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewAccessLogger creates the logger and starts its writer goroutine. The
// directory is created if missing.
func NewAccessLogger(dir, stem string, lineBufSize int, splitLines uint64, queueCap uint32) (*AccessLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("access logger: mkdir %s: %w", dir, err)
	}
	if queueCap == 0 {
		queueCap = 8
	}
	if splitLines == 0 {
		splitLines = 800000
	}

	l := &AccessLogger{
		queue:      NewBoundedQueue[string](int(queueCap)),
		dir:        dir,
		stem:       stem,
		splitLines: splitLines,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// run is the single writer goroutine: pop formatted lines, append to the
// current file, rotating as needed. I/O failures are reported to stderr and
// never propagate to producers.
func (l *AccessLogger) run() {
	defer close(l.doneCh)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-l.stopCh
		cancel()
	}()

	for {
		line, ok := l.queue.Pop(ctx)
		if !ok {
			l.flushAndClose()
			return
		}
		if err := l.write(line); err != nil {
			fmt.Fprintf(os.Stderr, "access logger: write: %v\n", err)
		}
	}
}

func (l *AccessLogger) write(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeeded(); err != nil {
		return err
	}
	if _, err := l.file.WriteString(line); err != nil {
		return err
	}
	l.lineCnt++
	return nil
}

// rotateIfNeeded opens a new file when the day has changed or the line
// count has crossed a multiple of splitLines, naming files
// YYYY_MM_DD_<stem>[.<seq>].
func (l *AccessLogger) rotateIfNeeded() error {
	today := time.Now().Format("2006_01_02")

	needsRotate := l.file == nil
	if today != l.today {
		l.today = today
		l.seq = 0
		needsRotate = true
	} else if l.lineCnt > 0 && l.lineCnt%l.splitLines == 0 {
		l.seq++
		needsRotate = true
	}
	if !needsRotate {
		return nil
	}

	name := fmt.Sprintf("%s_%s", l.today, l.stem)
	if l.seq > 0 {
		name = fmt.Sprintf("%s.%d", name, l.seq)
	}
	path := filepath.Join(l.dir, name)

	if l.file != nil {
		_ = l.file.Close()
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

func (l *AccessLogger) flushAndClose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Sync()
		_ = l.file.Close()
		l.file = nil
	}
}

// Sync forces the current file's OS buffer to disk.
func (l *AccessLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Sync()
}

// Close stops the writer goroutine and waits for it to drain and close the
// current file.
func (l *AccessLogger) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.queue.Close()
	<-l.doneCh
}

// Write implements zapcore.WriteSyncer. It never blocks: a full queue drops
// the line rather than stall the caller.
func (l *AccessLogger) Write(p []byte) (int, error) {
	if !l.queue.Push(string(p)) {
		// Dropped: queue full or logger shutting down. Reported, not fatal.
		fmt.Fprintf(os.Stderr, "access logger: queue full, dropping line\n")
	}
	return len(p), nil
}

// NewAccessLoggerCore builds a zapcore.Core over the access logger with a
// microsecond ISO-like timestamp, usable standalone or tee'd with the
// ambient process logger via zapcore.NewTee.
func NewAccessLoggerCore(l *AccessLogger, level zapcore.LevelEnabler) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)
	return zapcore.NewCore(encoder, zapcore.AddSync(l), level)
}
