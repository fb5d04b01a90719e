package main

import (
	"strconv"
	"strings"
)

// parseLine scans the read buffer byte-by-byte from checkedIdx looking for
// a complete CRLF-terminated line, rewriting both bytes to zero in place.
// lineEnd is left pointing at the first rewritten byte so getLine can
// recover the line's text.
func (c *Connection) parseLine() LineStatus {
	for ; c.checkedIdx < c.readEnd; c.checkedIdx++ {
		b := c.readBuf[c.checkedIdx]
		switch b {
		case '\r':
			if c.checkedIdx+1 == c.readEnd {
				return LineOpen
			}
			if c.readBuf[c.checkedIdx+1] == '\n' {
				c.lineEnd = c.checkedIdx
				c.readBuf[c.checkedIdx] = 0
				c.checkedIdx++
				c.readBuf[c.checkedIdx] = 0
				c.checkedIdx++
				return LineOK
			}
			return LineBad
		case '\n':
			if c.checkedIdx > 0 && c.readBuf[c.checkedIdx-1] == '\r' {
				c.lineEnd = c.checkedIdx - 1
				c.readBuf[c.checkedIdx-1] = 0
				c.readBuf[c.checkedIdx] = 0
				c.checkedIdx++
				return LineOK
			}
			return LineBad
		}
	}
	return LineOpen
}

// getLine returns the most recently completed line's text, from startLine
// up to (not including) the CRLF that parseLine just zeroed.
func (c *Connection) getLine() string {
	return string(c.readBuf[c.startLine:c.lineEnd])
}

// ProcessRead is the outer parse state machine. It consumes as many
// complete lines as are buffered, advancing through
// RequestLine -> Headers -> Body, and returns NoRequest if the buffered
// bytes do not yet form a complete request.
func (c *Connection) ProcessRead() HTTPCode {
	lineStatus := LineOK

	for {
		if c.state == StateBody {
			if lineStatus != LineOK {
				break
			}
		} else {
			lineStatus = c.parseLine()
			if lineStatus != LineOK {
				break
			}
		}

		line := c.getLine()
		c.startLine = c.checkedIdx

		switch c.state {
		case StateRequestLine:
			ret := c.parseRequestLine(line)
			if ret == BadRequest {
				return BadRequest
			}
		case StateHeaders:
			ret := c.parseHeaders(line)
			if ret == BadRequest {
				return BadRequest
			}
			if ret == GetRequest {
				return c.DoRequest()
			}
		case StateBody:
			ret := c.parseContent()
			if ret == GetRequest {
				return c.DoRequest()
			}
			lineStatus = LineOpen
		default:
			return InternalError
		}
	}
	return NoRequest
}

// parseRequestLine splits "METHOD TARGET VERSION" on runs of space/tab.
// Only GET and POST are accepted; only HTTP/1.1. A leading "http://host"
// is stripped to the absolute path; "/" becomes "/judge.html".
func (c *Connection) parseRequestLine(line string) HTTPCode {
	sp := strings.IndexAny(line, " \t")
	if sp < 0 {
		return BadRequest
	}
	method := line[:sp]
	rest := strings.TrimLeft(line[sp:], " \t")

	switch strings.ToUpper(method) {
	case "GET":
		c.method = "GET"
	case "POST":
		c.method = "POST"
		c.cgi = true
	default:
		return BadRequest
	}

	vp := strings.IndexAny(rest, " \t")
	if vp < 0 {
		return BadRequest
	}
	target := rest[:vp]
	version := strings.TrimLeft(rest[vp:], " \t")

	if !strings.HasPrefix(strings.ToUpper(version), "HTTP/1.1") {
		return BadRequest
	}
	c.version = "HTTP/1.1"

	if strings.HasPrefix(strings.ToLower(target), "http://") {
		stripped := target[len("http://"):]
		if idx := strings.IndexByte(stripped, '/'); idx >= 0 {
			target = stripped[idx:]
		} else {
			target = ""
		}
	}
	if target == "" || target[0] != '/' {
		return BadRequest
	}
	if target == "/" {
		target = "/judge.html"
	}
	c.target = target
	c.state = StateHeaders
	return NoRequest
}

// parseHeaders recognizes Connection, Content-Length, and Host; anything
// else is ignored (and, in the reactor's wiring, logged). An empty line
// ends the header block.
func (c *Connection) parseHeaders(line string) HTTPCode {
	if line == "" {
		if c.contentLength != 0 {
			c.state = StateBody
			return NoRequest
		}
		return GetRequest
	}

	switch {
	case hasCIPrefix(line, "Connection:"):
		// Only tabs are skipped here, not spaces: a leading space before
		// "keep-alive" will not activate keep-alive. Known quirk, left as
		// is rather than silently normalized.
		v := strings.TrimLeft(line[len("Connection:"):], "\t")
		if strings.EqualFold(v, "keep-alive") {
			c.keepAlive = true
		}
	case hasCIPrefix(line, "Content-Length:"):
		v := strings.TrimLeft(line[len("Content-Length:"):], "\t")
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.contentLength = n
		}
	case hasCIPrefix(line, "Host:"):
		c.host = strings.TrimLeft(line[len("Host:"):], "\t")
	}
	return NoRequest
}

func hasCIPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// parseContent does not itself interpret the body; it only checks whether
// contentLength bytes have been buffered since the body's start (checkedIdx,
// unchanged since headers completed) and, if so, captures that slice.
func (c *Connection) parseContent() HTTPCode {
	bodyStart := c.checkedIdx
	if c.readEnd >= bodyStart+c.contentLength {
		c.body = string(c.readBuf[bodyStart : bodyStart+c.contentLength])
		return GetRequest
	}
	return NoRequest
}
