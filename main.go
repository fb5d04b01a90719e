package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <port>\n", os.Args[0])
		os.Exit(1)
	}
	port, err := strconv.ParseUint(os.Args[1], 10, 16)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := NewConfig(uint16(port))
	if err != nil {
		log.Fatal("configuration error", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := NewServer(ctx, cfg, log)
	if err != nil {
		log.Fatal("server init failed", zap.Error(err))
	}

	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go srv.Metrics.StartServer(metricsCtx, cfg.MetricsListenAddr, srv.DBPool, log)

	log.Info("reactorhttpd starting",
		zap.Uint64("port", port),
		zap.String("doc_root", cfg.DocRoot),
		zap.Uint32("threads", cfg.ThreadCount),
	)

	if err := srv.Run(ctx, uint16(port)); err != nil {
		log.Error("reactor exited with error", zap.Error(err))
		srv.Close()
		os.Exit(1)
	}

	srv.Close()
	log.Info("reactorhttpd stopped")
}
