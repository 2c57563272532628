package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/giphy"
	"github.com/Tyrowin/roomchat/internal/logger"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/server"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Room chat server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := server.LoadConfig()
	if err != nil {
		return exitConfig, err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return exitConfig, err
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry := chat.NewRegistry(cfg.HistoryLimit)
	coordinator := chat.NewCoordinator(registry, m, log.Named("chat"), chat.Options{
		StrictRoomBinding: cfg.StrictRoomBinding,
	})
	searcher := giphy.NewClient(giphy.Config{
		APIKey:  cfg.Giphy.APIKey,
		BaseURL: cfg.Giphy.BaseURL,
		Limit:   cfg.Giphy.Limit,
		Rating:  cfg.Giphy.Rating,
		Timeout: cfg.Giphy.Timeout,
	}, log.Named("giphy"))

	srv := server.New(*cfg, coordinator, searcher, m, log.Named("server"))
	srv.StartHub()

	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, log)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = srv.Hub().Shutdown(cfg.ShutdownTimeout)
			return exitRuntime, fmt.Errorf("http server: %w", err)
		}
	case sig := <-stop:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	code := exitOK
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		code = exitRuntime
	}
	if err := srv.Hub().Shutdown(cfg.ShutdownTimeout); err != nil {
		return exitRuntime, fmt.Errorf("hub shutdown: %w", err)
	}
	return code, nil
}
