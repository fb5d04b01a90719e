package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DoRequest resolves the parsed request to a file and, for the two CGI
// tags, a login/register outcome, via a single dispatch table keyed on the
// character following the target's last slash.
func (c *Connection) DoRequest() HTTPCode {
	tag := dispatchTag(c.target)

	if c.cgi && (tag == '2' || tag == '3') {
		user, password, ok := parseLoginForm(c.body)
		if !ok {
			c.target = errorTargetFor(tag)
		} else {
			switch tag {
			case '2':
				c.target = c.handleLogin(user, password)
			case '3':
				c.target = c.handleRegister(user, password)
			}
		}
	} else {
		switch tag {
		case '0':
			c.target = "/register.html"
		case '1':
			c.target = "/log.html"
		case '5':
			c.target = "/picture.html"
		case '6':
			c.target = "/video.html"
		case '7':
			c.target = "/fans.html"
		}
	}

	return c.resolveFile()
}

// dispatchTag returns the character immediately after the last '/' in
// target, or 0 if target ends in '/'.
func dispatchTag(target string) byte {
	idx := strings.LastIndexByte(target, '/')
	if idx < 0 || idx+1 >= len(target) {
		return 0
	}
	return target[idx+1]
}

func errorTargetFor(tag byte) string {
	if tag == '3' {
		return "/registerError.html"
	}
	return "/logError.html"
}

// parseLoginForm extracts user/password from a body of the fixed shape
// "user=<u>&password=<p>". A malformed body returns ok=false rather than
// guessing at a partial field.
func parseLoginForm(body string) (user, password string, ok bool) {
	const userPrefix = "user="
	const passMarker = "&password="

	if !strings.HasPrefix(body, userPrefix) {
		return "", "", false
	}
	rest := body[len(userPrefix):]
	amp := strings.IndexByte(rest, '&')
	if amp < 0 {
		return "", "", false
	}
	user = rest[:amp]
	rest = rest[amp:]
	if !strings.HasPrefix(rest, passMarker) {
		return "", "", false
	}
	password = rest[len(passMarker):]

	if len(user) == 0 || len(user) > maxFieldLen || len(password) > maxFieldLen {
		return "", "", false
	}
	return user, password, true
}

// handleLogin consults the rate limiter before the users map: a sender
// over quota never reaches the lookup.
func (c *Connection) handleLogin(user, password string) string {
	key := c.Peer.String() + ":" + user
	if !c.srv.RateLimiter.Allow(key) {
		c.srv.Metrics.QuotaExceededTotal.Inc()
		return "/logError.html"
	}
	if stored, ok := c.srv.Users.Lookup(user); ok && stored == password {
		return "/welcome.html"
	}
	return "/logError.html"
}

// handleRegister consults the rate limiter keyed by address only (no
// username exists yet to key on), then performs the collision check and
// DB insert under the users store's lock.
func (c *Connection) handleRegister(user, password string) string {
	key := c.Peer.String()
	if !c.srv.RateLimiter.Allow(key) {
		c.srv.Metrics.QuotaExceededTotal.Inc()
		return "/registerError.html"
	}
	if c.srv.Users.Exists(user) {
		return "/registerError.html"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.srv.Users.Register(ctx, c.srv.DBPool, user, password); err != nil {
		c.srv.Log.Warn("registration insert failed", zap.String("user", user), zap.Error(err))
		return "/registerError.html"
	}
	return "/log.html"
}

// resolveFile joins the document root with target, stats it, and mmaps it
// read-only.
func (c *Connection) resolveFile() HTTPCode {
	c.realFile = c.srv.Config.DocRoot + c.target

	info, err := os.Stat(c.realFile)
	if err != nil {
		return NoResource
	}
	if info.Mode()&0o004 == 0 {
		return ForbiddenRequest
	}
	if info.IsDir() {
		return BadRequest
	}

	f, err := mmapOpen(c.realFile, info.Size())
	if err != nil {
		return InternalError
	}
	c.file = f
	c.fileSize = info.Size()
	return FileRequest
}

// statusFor returns the HTTP status code and title for a given HTTPCode.
func statusFor(code HTTPCode) (int, string) {
	switch code {
	case FileRequest:
		return 200, "OK"
	case BadRequest:
		return 400, "Bad Request"
	case ForbiddenRequest:
		return 403, "Forbidden"
	case NoResource:
		return 404, "Not Found"
	default:
		return 500, "Internal Error"
	}
}

func statusLabel(code HTTPCode) string {
	n, _ := statusFor(code)
	return strconv.Itoa(n)
}
