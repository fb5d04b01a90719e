package main

import (
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ParseState is the outer HTTP parser state.
type ParseState int

const (
	StateRequestLine ParseState = iota
	StateHeaders
	StateBody
)

// LineStatus is the inner line-scanning sub-state.
type LineStatus int

const (
	LineOK LineStatus = iota
	LineBad
	LineOpen
)

// HTTPCode is the outcome of the read/dispatch path, driving the status
// line the write path selects.
type HTTPCode int

const (
	NoRequest HTTPCode = iota
	GetRequest
	BadRequest
	NoResource
	ForbiddenRequest
	FileRequest
	InternalError
)

const (
	readBufSize  = 2048
	writeBufSize = 1024
	maxFieldLen  = 99
)

// writeSegment is one entry of the up-to-two-segment scatter/gather write
// vector: header bytes first, then file bytes.
type writeSegment struct {
	base []byte
}

// Connection is one per-client slot. A fixed array of these is
// pre-allocated at startup by the reactor and indexed by socket
// descriptor; Reset returns a slot to its post-accept state without
// deallocating its buffers.
type Connection struct {
	Sockfd int
	Peer   net.Addr

	readBuf    [readBufSize]byte
	readEnd    int
	checkedIdx int
	startLine  int
	lineEnd    int

	writeBuf [writeBufSize]byte
	writeEnd int

	state ParseState

	method        string
	target        string
	version       string
	host          string
	contentLength int
	keepAlive     bool
	cgi           bool
	body          string

	srv      *Server
	realFile string

	file     *mmapFile
	fileSize int64

	iov      [2]writeSegment
	iovCount int

	bytesToSend int
	bytesSent   int

	// timer is the connection's owning idle-timeout record; nil while the
	// slot is unused.
	timer *Timer

	// inQueue asserts one-shot isolation: 1 while the slot sits on the
	// request queue waiting for a worker, 0 otherwise. markQueued and
	// clearQueued CAS across this flag so a slot can never be handed to
	// two workers, or re-enqueued while a worker still holds it.
	inQueue int32
}

// markQueued flags the slot as enqueued, failing if it was already
// queued: the reactor goroutine calls this immediately before pushing a
// readable connection onto the request queue.
func (c *Connection) markQueued() bool {
	return atomic.CompareAndSwapInt32(&c.inQueue, 0, 1)
}

// clearQueued flags the slot as dequeued, failing if it was not marked
// queued: a worker calls this immediately after popping a connection, and
// a false return means two workers raced the same slot.
func (c *Connection) clearQueued() bool {
	return atomic.CompareAndSwapInt32(&c.inQueue, 1, 0)
}

// NewConnection allocates an unused slot. The reactor allocates MaxFD of
// these once at startup and never again.
func NewConnection() *Connection {
	return &Connection{}
}

// AppendRead copies data into the read buffer, advancing readEnd. It
// reports false when the buffer has no room left; the reactor owns the
// actual non-blocking recv loop and calls this once per chunk read.
func (c *Connection) AppendRead(data []byte) bool {
	if c.readEnd >= len(c.readBuf) {
		return false
	}
	n := copy(c.readBuf[c.readEnd:], data)
	c.readEnd += n
	return n == len(data)
}

// Init (re)initializes a slot for a freshly accepted socket.
func (c *Connection) Init(sockfd int, peer net.Addr, srv *Server) {
	c.Sockfd = sockfd
	c.Peer = peer
	c.srv = srv
	c.resetParseState()
}

// resetParseState clears per-request fields without touching the socket or
// timer. Called both on accept and after a keep-alive response completes.
func (c *Connection) resetParseState() {
	c.readEnd = 0
	c.checkedIdx = 0
	c.startLine = 0
	c.writeEnd = 0
	c.state = StateRequestLine
	c.method = ""
	c.target = ""
	c.version = ""
	c.host = ""
	c.contentLength = 0
	c.keepAlive = false
	c.cgi = false
	c.body = ""
	c.realFile = ""
	c.releaseFile()
	c.iov[0] = writeSegment{}
	c.iov[1] = writeSegment{}
	c.iovCount = 0
	c.bytesToSend = 0
	c.bytesSent = 0
}

// Reset returns the slot to a wholly unused state, releasing the mapped
// file view and dropping the timer link. Called on close, before the slot
// is reused by a future accept.
func (c *Connection) Reset() {
	c.resetParseState()
	c.Sockfd = -1
	c.Peer = nil
	c.timer = nil
	c.srv = nil
	atomic.StoreInt32(&c.inQueue, 0)
}

func (c *Connection) releaseFile() {
	if c.file != nil {
		_ = c.file.Close()
		c.file = nil
	}
	c.fileSize = 0
}

// mmapFile is a memory-mapped read-only view of a static file, released by
// Close before the owning Connection's slot is reused. It is opened via
// golang.org/x/sys/unix, the same package the reactor uses for epoll and
// writev.
type mmapFile struct {
	data []byte
}

func mmapOpen(path string, size int64) (*mmapFile, error) {
	if size == 0 {
		return &mmapFile{data: nil}, nil
	}
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return &mmapFile{data: data}, nil
}

// Bytes returns the mapped file contents, or nil for a zero-byte file.
func (f *mmapFile) Bytes() []byte { return f.data }

// Close unmaps the view. Safe to call on a zero-byte file's no-op view.
func (f *mmapFile) Close() error {
	if f.data == nil {
		return nil
	}
	return unix.Munmap(f.data)
}
