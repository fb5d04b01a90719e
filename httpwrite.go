package main

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	body400 = "Your request has bad syntax or is inherently impossible to satisfy.\n"
	body403 = "You do not have permission to get file from this server.\n"
	body404 = "The requested file was not found on this server.\n"
	body500 = "There was an unusual problem serving the request file.\n"

	// zeroFileBody is served, with a 200, when a resolved static file is
	// zero bytes long. See DESIGN.md Open Question 4.
	zeroFileBody = "<html><body>Hello</body></html>"
)

// appendWrite copies s into the write buffer, reporting false if it does
// not fully fit.
func (c *Connection) appendWrite(s string) bool {
	if c.writeEnd >= len(c.writeBuf) {
		return false
	}
	n := copy(c.writeBuf[c.writeEnd:], s)
	c.writeEnd += n
	return n == len(s)
}

func (c *Connection) addStatusLine(status int, title string) bool {
	return c.appendWrite(fmt.Sprintf("HTTP/1.1 %d %s\r\n", status, title))
}

func (c *Connection) addHeaders(contentLen int64) bool {
	conn := "close"
	if c.keepAlive {
		conn = "keep-alive"
	}
	ok := c.appendWrite(fmt.Sprintf("Content-Length: %d\r\n", contentLen))
	ok = c.appendWrite(fmt.Sprintf("Connection: %s\r\n", conn)) && ok
	ok = c.appendWrite("\r\n") && ok
	return ok
}

// ProcessWrite stages the response for code into the write buffer and
// scatter/gather vector. It reports false only when the write buffer
// cannot hold the staged headers/body, which the reactor treats as an
// unrecoverable close.
func (c *Connection) ProcessWrite(code HTTPCode) bool {
	switch code {
	case InternalError:
		return c.writeErrorBody(500, "Internal Error", body500)
	case BadRequest:
		return c.writeErrorBody(400, "Bad Request", body400)
	case NoResource:
		return c.writeErrorBody(404, "Not Found", body404)
	case ForbiddenRequest:
		return c.writeErrorBody(403, "Forbidden", body403)
	case FileRequest:
		return c.writeFileResponse()
	default:
		return false
	}
}

func (c *Connection) writeErrorBody(status int, title, body string) bool {
	if !c.addStatusLine(status, title) {
		return false
	}
	if !c.addHeaders(int64(len(body))) {
		return false
	}
	if !c.appendWrite(body) {
		return false
	}
	c.iov[0] = writeSegment{base: c.writeBuf[:c.writeEnd]}
	c.iovCount = 1
	c.bytesToSend = c.writeEnd
	return true
}

func (c *Connection) writeFileResponse() bool {
	if !c.addStatusLine(200, "OK") {
		return false
	}

	if c.fileSize != 0 {
		if !c.addHeaders(c.fileSize) {
			return false
		}
		c.iov[0] = writeSegment{base: c.writeBuf[:c.writeEnd]}
		c.iov[1] = writeSegment{base: c.file.Bytes()}
		c.iovCount = 2
		c.bytesToSend = c.writeEnd + int(c.fileSize)
		return true
	}

	if !c.addHeaders(int64(len(zeroFileBody))) {
		return false
	}
	if !c.appendWrite(zeroFileBody) {
		return false
	}
	c.iov[0] = writeSegment{base: c.writeBuf[:c.writeEnd]}
	c.iovCount = 1
	c.bytesToSend = c.writeEnd
	return true
}

// activeSegments returns the non-drained write vector segments, in order,
// ready to pass to writev.
func (c *Connection) activeSegments() [][]byte {
	segs := make([][]byte, 0, 2)
	for i := 0; i < c.iovCount; i++ {
		if len(c.iov[i].base) > 0 {
			segs = append(segs, c.iov[i].base)
		}
	}
	return segs
}

// AdvanceWrite consumes n written bytes from the front of the scatter
// vector, draining iov[0] (headers) before iov[1] (the mapped file).
func (c *Connection) AdvanceWrite(n int) {
	c.bytesToSend -= n
	c.bytesSent += n

	remaining := n
	for i := 0; i < c.iovCount && remaining > 0; i++ {
		seg := &c.iov[i]
		if remaining >= len(seg.base) {
			remaining -= len(seg.base)
			seg.base = seg.base[len(seg.base):]
		} else {
			seg.base = seg.base[remaining:]
			remaining = 0
		}
	}
}

// WriteOutcome reports what the reactor should do after one WriteStep.
type WriteOutcome int

const (
	WriteAgain WriteOutcome = iota
	WriteDoneKeepAlive
	WriteDoneClose
	WriteError
)

// WriteStep performs one writev attempt through the given syscall function
// (injected so tests can drive it without a real socket). The reactor
// calls this again on the next writable readiness rather than looping
// internally, since only the reactor goroutine may touch epoll.
func (c *Connection) WriteStep(writev func(fd int, iovs [][]byte) (int, error)) WriteOutcome {
	bufs := c.activeSegments()
	if len(bufs) == 0 {
		c.resetParseState()
		return WriteDoneKeepAlive
	}

	n, err := writev(c.Sockfd, bufs)
	if err != nil {
		if isEAGAIN(err) {
			return WriteAgain
		}
		c.releaseFile()
		return WriteError
	}

	c.AdvanceWrite(n)
	if c.bytesToSend > 0 {
		return WriteAgain
	}

	c.releaseFile()
	if c.keepAlive {
		c.resetParseState()
		return WriteDoneKeepAlive
	}
	return WriteDoneClose
}

func isEAGAIN(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// Writev performs the real vectored write syscall; passed to WriteStep by
// the reactor in production.
func Writev(fd int, iovs [][]byte) (int, error) {
	return unix.Writev(fd, iovs)
}
