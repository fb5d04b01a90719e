package main

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPool runs a fixed number of goroutines draining the reactor's
// request queue and invoking each connection's Process method. It
// never touches epoll directly; every outcome is communicated back to the
// reactor goroutine through Server.rearmCh.
type WorkerPool struct {
	srv   *Server
	n     int
	wg    sync.WaitGroup
	ctx   context.Context
	close context.CancelFunc
	busy  int32
}

// NewWorkerPool creates a pool of n workers bound to srv. Start must be
// called to launch the goroutines.
func NewWorkerPool(n int, srv *Server) *WorkerPool {
	if n <= 0 {
		n = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{srv: srv, n: n, ctx: ctx, close: cancel}
}

// Start launches the worker goroutines. Safe to call once.
func (p *WorkerPool) Start() {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

func (p *WorkerPool) run() {
	defer p.wg.Done()
	for {
		c, ok := p.srv.Queue.Pop(p.ctx)
		if !ok {
			return
		}
		if !c.clearQueued() {
			p.srv.Log.Error("popped a connection that was not marked queued", zap.Int("fd", c.Sockfd))
		}
		p.srv.Metrics.WorkerBusy.Inc()
		p.srv.Process(c)
		p.srv.Metrics.WorkerBusy.Dec()
		p.srv.Metrics.QueueDepth.Set(float64(p.srv.Queue.Len()))
	}
}

// Stop cancels outstanding Pop waits, closes the queue so Pop returns
// immediately everywhere, and waits for every worker goroutine to exit.
func (p *WorkerPool) Stop() {
	p.srv.Queue.Close()
	p.close()
	p.wg.Wait()
}
