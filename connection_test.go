package main

import "testing"

func TestConnection_AppendReadAccumulates(t *testing.T) {
	c := NewConnection()
	c.Init(3, nil, testServer(t))

	if !c.AppendRead([]byte("hello ")) {
		t.Fatal("AppendRead should succeed with room left")
	}
	if !c.AppendRead([]byte("world")) {
		t.Fatal("AppendRead should succeed across multiple calls")
	}
	if got := string(c.readBuf[:c.readEnd]); got != "hello world" {
		t.Errorf("expected accumulated buffer %q, got %q", "hello world", got)
	}
}

func TestConnection_AppendReadReportsFullBuffer(t *testing.T) {
	c := NewConnection()
	c.Init(3, nil, testServer(t))

	big := make([]byte, readBufSize+10)
	for i := range big {
		big[i] = 'x'
	}
	if c.AppendRead(big) {
		t.Error("AppendRead should report false when the chunk overflows the buffer")
	}
	if c.readEnd != readBufSize {
		t.Errorf("expected readEnd to saturate at %d, got %d", readBufSize, c.readEnd)
	}
}

func TestConnection_ResetParseStateClearsRequestFields(t *testing.T) {
	c := NewConnection()
	c.Init(3, nil, testServer(t))

	feedRequest(c, "GET /judge.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	if c.method == "" {
		t.Fatal("setup: request did not parse")
	}

	c.resetParseState()

	if c.method != "" || c.target != "" || c.host != "" {
		t.Error("resetParseState should clear method/target/host")
	}
	if c.keepAlive {
		t.Error("resetParseState should clear keepAlive")
	}
	if c.readEnd != 0 || c.checkedIdx != 0 || c.writeEnd != 0 {
		t.Error("resetParseState should rewind read/write cursors")
	}
	if c.state != StateRequestLine {
		t.Error("resetParseState should return to StateRequestLine")
	}
}

func TestConnection_ResetClearsSocketAndTimer(t *testing.T) {
	c := NewConnection()
	c.Init(7, nil, testServer(t))
	c.timer = &Timer{}

	c.Reset()

	if c.Sockfd != -1 {
		t.Errorf("expected Sockfd -1 after Reset, got %d", c.Sockfd)
	}
	if c.timer != nil {
		t.Error("expected timer to be cleared after Reset")
	}
	if c.srv != nil {
		t.Error("expected srv to be cleared after Reset")
	}
}

// TestConnection_KeepAliveIdempotence verifies that a Connection slot can
// serve two full request/response cycles in a row via resetParseState,
// without any buffer state leaking from the first request into the second.
func TestConnection_KeepAliveIdempotence(t *testing.T) {
	c := NewConnection()
	c.Init(3, nil, testServer(t))

	feedRequest(c, "GET /judge.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	if !c.keepAlive {
		t.Fatal("setup: expected keep-alive on the first request")
	}
	c.resetParseState()

	code := feedRequest(c, "GET /judge.html HTTP/1.1\r\n\r\n")
	if code == NoRequest {
		t.Fatal("expected the second request on the reused slot to parse fully")
	}
	if c.keepAlive {
		t.Error("the second request did not ask for keep-alive; it should not still be set")
	}
}

func TestMmapFile_ZeroByteFile(t *testing.T) {
	f, err := mmapOpen("/does/not/matter", 0)
	if err != nil {
		t.Fatalf("unexpected error opening a zero-size mapping: %v", err)
	}
	if f.Bytes() != nil {
		t.Error("expected a nil byte slice for a zero-byte file")
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close on a zero-byte mapping should be a no-op, got %v", err)
	}
}
