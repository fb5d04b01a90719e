package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const maxEpollEvents = 10000

// Run starts the epoll reactor on port: it accepts connections into the
// pre-allocated slot array, drives read/write readiness, ages out idle
// connections via the timer list, and returns when ctx is done or Shutdown
// is called. Only this goroutine ever calls epoll_ctl/epoll_wait.
func (s *Server) Run(ctx context.Context, port uint16) error {
	listenFD, err := listenSocket(port)
	if err != nil {
		return fmt.Errorf("reactor: listen: %w", err)
	}
	defer unix.Close(listenFD)

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	s.epfd = epfd
	defer unix.Close(epfd)

	pipeFDs := make([]int, 2)
	if err := unix.Pipe2(pipeFDs, unix.O_NONBLOCK); err != nil {
		return fmt.Errorf("reactor: pipe2: %w", err)
	}
	selfPipeRead, selfPipeWrite := pipeFDs[0], pipeFDs[1]
	defer unix.Close(selfPipeRead)
	defer unix.Close(selfPipeWrite)

	signal.Ignore(syscall.SIGPIPE)

	// The listen socket is level-triggered and never one-shot: any number
	// of worker reads never touch it, only this loop's accept calls do.
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listenFD,
		&unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(listenFD)}); err != nil {
		return fmt.Errorf("reactor: epoll_ctl listen: %w", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, selfPipeRead,
		&unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(selfPipeRead)}); err != nil {
		return fmt.Errorf("reactor: epoll_ctl self-pipe: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	shutdown := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		case <-s.stopCh:
		}
		close(shutdown)
		wakeSelfPipe(selfPipeWrite)
	}()

	ticker := time.NewTicker(s.timeSlot())
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				wakeSelfPipe(selfPipeWrite)
			case <-shutdown:
				return
			}
		}
	}()

	s.Workers.Start()

	events := make([]unix.EpollEvent, maxEpollEvents)
	for {
		n, err := unix.EpollWait(epfd, events, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			mask := events[i].Events
			switch fd {
			case listenFD:
				s.acceptLoop(listenFD)
			case selfPipeRead:
				drainPipe(selfPipeRead)
				s.Timers.Tick(time.Now())
			default:
				s.handleConnEvent(fd, mask)
			}
		}

		s.drainRearms()

		select {
		case <-shutdown:
			return nil
		default:
		}
	}
}

func (s *Server) drainRearms() {
	for {
		select {
		case r := <-s.rearmCh:
			s.applyRearm(r)
		default:
			return
		}
	}
}

func (s *Server) applyRearm(r rearmRequest) {
	switch r.event {
	case rearmReadable:
		epollMod(s.epfd, r.fd, unix.EPOLLIN|unix.EPOLLET|unix.EPOLLONESHOT|unix.EPOLLRDHUP)
	case rearmWritable:
		epollMod(s.epfd, r.fd, unix.EPOLLOUT|unix.EPOLLET|unix.EPOLLONESHOT|unix.EPOLLRDHUP)
	case rearmClose:
		s.closeConn(r.fd)
	}
}

// acceptLoop drains the listen socket's backlog, since it is registered
// level-triggered: Accept4 is called until EAGAIN.
func (s *Server) acceptLoop(listenFD int) {
	for {
		nfd, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			s.Log.Warn("accept failed", zap.Error(err))
			return
		}

		if nfd >= MaxFD {
			writeBusy(nfd)
			unix.Close(nfd)
			continue
		}

		peer := sockaddrToAddr(sa)
		c := s.conns[nfd]
		c.Init(nfd, peer, s)

		if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, nfd,
			&unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET | unix.EPOLLONESHOT | unix.EPOLLRDHUP, Fd: int32(nfd)}); err != nil {
			unix.Close(nfd)
			continue
		}

		s.addTimer(c)
		s.Metrics.ActiveConnections.Inc()
	}
}

func (s *Server) handleConnEvent(fd int, mask uint32) {
	c := s.connAt(fd)
	if c == nil {
		return
	}
	if mask&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0 {
		s.closeConn(fd)
		return
	}
	if mask&unix.EPOLLIN != 0 {
		s.handleReadable(c)
		return
	}
	if mask&unix.EPOLLOUT != 0 {
		s.handleWritable(c)
	}
}

// handleReadable drains the socket into the connection's read buffer and
// hands it to the worker pool once a chunk has been read.
func (s *Server) handleReadable(c *Connection) {
	var buf [4096]byte
	gotData := false

	for {
		n, err := unix.Read(c.Sockfd, buf[:])
		if n > 0 {
			gotData = true
			full := c.AppendRead(buf[:n])
			if !full || n < len(buf) {
				break
			}
			continue
		}
		if n == 0 {
			s.closeConn(c.Sockfd)
			return
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		if err == unix.EINTR {
			continue
		}
		s.closeConn(c.Sockfd)
		return
	}

	if !gotData {
		s.rearmCh <- rearmRequest{fd: c.Sockfd, event: rearmReadable}
		return
	}

	s.touchTimer(c)
	if !c.markQueued() {
		s.Log.Error("connection already on the request queue, dropping", zap.Int("fd", c.Sockfd))
		s.closeConn(c.Sockfd)
		return
	}
	if !s.Queue.Push(c) {
		c.clearQueued()
		s.Log.Warn("request queue full, dropping connection", zap.Int("fd", c.Sockfd))
		s.closeConn(c.Sockfd)
		return
	}
	s.Metrics.QueueDepth.Set(float64(s.Queue.Len()))
}

// handleWritable drives one write attempt directly on the reactor
// goroutine; writes never go through the worker pool.
func (s *Server) handleWritable(c *Connection) {
	switch c.WriteStep(Writev) {
	case WriteAgain:
		s.rearmCh <- rearmRequest{fd: c.Sockfd, event: rearmWritable}
	case WriteDoneKeepAlive:
		s.touchTimer(c)
		s.rearmCh <- rearmRequest{fd: c.Sockfd, event: rearmReadable}
	case WriteDoneClose, WriteError:
		s.closeConn(c.Sockfd)
	}
}

func (s *Server) connAt(fd int) *Connection {
	if fd < 0 || fd >= MaxFD {
		return nil
	}
	c := s.conns[fd]
	if c == nil || c.Sockfd != fd {
		return nil
	}
	return c
}

func (s *Server) addTimer(c *Connection) {
	sockfd := c.Sockfd
	t := &Timer{
		Expire:   time.Now().Add(s.inactivityTimeout()),
		UserData: &ClientData{Sockfd: sockfd},
	}
	t.Callback = func(cd *ClientData) {
		s.closeFD(cd.Sockfd)
	}
	c.timer = t
	s.Timers.Add(t)
	s.Metrics.ActiveTimers.Set(float64(s.Timers.count()))
}

func (s *Server) touchTimer(c *Connection) {
	if c.timer == nil {
		s.addTimer(c)
		return
	}
	c.timer.Expire = time.Now().Add(s.inactivityTimeout())
	s.Timers.Adjust(c.timer)
}

// closeConn is used for ordinary close paths (keep-alive deadline reached
// from outside a timer callback, protocol error, queue overload): it
// removes the connection's timer explicitly before tearing down the
// socket.
func (s *Server) closeConn(fd int) {
	if c := s.connAt(fd); c != nil && c.timer != nil {
		s.Timers.Delete(c.timer)
	}
	s.closeFD(fd)
}

// closeFD tears down the socket and slot without touching the timer
// list — used both by closeConn (after it has already removed the timer)
// and by a firing timer callback (whose entry Tick is already unlinking).
func (s *Server) closeFD(fd int) {
	_ = unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)
	if c := s.connAt(fd); c != nil {
		c.Reset()
	}
	s.Metrics.ActiveConnections.Dec()
}

func epollMod(epfd, fd int, events uint32) {
	_ = unix.EpollCtl(epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
}

func listenSocket(port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0}); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: int(port)}); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	default:
		return &net.TCPAddr{}
	}
}

// writeBusy rejects a connection beyond MaxFD with a short, synchronous
// response before closing it.
func writeBusy(fd int) {
	const body = "Internal server busy"
	msg := fmt.Sprintf("HTTP/1.1 500 Internal Error\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
	_, _ = unix.Write(fd, []byte(msg))
}

func wakeSelfPipe(fd int) {
	_, _ = unix.Write(fd, []byte{0})
}

func drainPipe(fd int) {
	var buf [512]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}
