package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"contractguard/internal/chat"
	"contractguard/internal/config"
	"contractguard/internal/events"
	"contractguard/internal/history"
	"contractguard/internal/logger"
	"contractguard/internal/server"
	"contractguard/internal/session"
	"contractguard/internal/tools"
)

const shutdownTimeout = 10 * time.Second

func serveMain(root rootArgs, args []string) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", "", "Listen address (default from config, e.g. :8787)")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parse serve args: %v", err)
	}

	cfg, err := loadConfig(root)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if strings.TrimSpace(*listen) != "" {
		cfg.Listen = strings.TrimSpace(*listen)
	}

	logger.Configure(cfg.LogLevel)
	if logFile, _, err := logger.SetupFile(logger.DefaultLogPath); err != nil {
		log.Warnf("failed to initialize log file: %v", err)
	} else {
		defer logFile.Close()
	}
	if toolsCloser, _, err := tools.SetupToolsLog(tools.DefaultToolsLogPath); err != nil {
		log.Warnf("failed to initialize tools log (%s): %v", tools.DefaultToolsLogPath, err)
	} else if toolsCloser != nil {
		defer toolsCloser.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open conversation store: %v", err)
	}
	defer closeStore.Close()

	bus := events.NewBus()
	defer bus.Close()

	svc := chat.NewService(chat.Options{
		Client:   modelClientOrUnavailable(cfg),
		Store:    store,
		Reports:  history.New(cfg.ReportsPath),
		Model:    cfg.Model,
		MaxSteps: cfg.MaxSteps,
		Timeout:  time.Duration(cfg.RequestTimeoutSecs) * time.Second,
	})
	handler := server.New(server.Options{
		HasAPIKey: cfg.HasAPIKey,
		Agents:    server.NewAgentRouter(svc, bus),
		Bus:       bus,
	})

	srv := newHTTPServer(cfg.Listen, handler, bus)
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logger.Fields{
			"listen":   cfg.Listen,
			"provider": cfg.Provider,
			"model":    cfg.Model,
		}).Info("contractguard listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
	}
}

// newHTTPServer 在 Shutdown 开始时关闭总线，使 /debug/events 的长连接立即结束。
func newHTTPServer(addr string, handler http.Handler, bus *events.Bus) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(bus.Close)
	return srv
}

// openStore 配置了 database_url 时使用 Postgres，否则使用本地 JSON 文件。
func openStore(ctx context.Context, cfg config.Config) (session.Store, io.Closer, error) {
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		pg, err := session.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using postgres conversation store")
		return pg, closerFunc(pg.Close), nil
	}
	fileStore, err := session.NewFileStore(cfg.StoreDir)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("dir", cfg.StoreDir).Info("using file conversation store")
	return fileStore, closerFunc(func() {}), nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
