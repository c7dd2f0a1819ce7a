package main

import (
	"chat-relay/auth"
	"chat-relay/internal"
	"chat-relay/observability"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	transport "chat-relay/transport/http"
	"chat-relay/transport/ws"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and owns the server lifecycle, so deferred cleanups
// always execute before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Store
	store, err := internal.OpenStore(ctx, config, log)
	if err != nil {
		return exitRuntime, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Error("Failed to close store", "error", err)
		}
	}()

	// 3. Runtime
	metrics := observability.NewMetrics()
	registry := runtime.NewRegistry()
	presence := runtime.NewPresenceTracker()
	notifier := runtime.NewNotifier(log, registry, metrics, config.SinkTimeout)
	orchestrator := runtime.NewOrchestrator(log, registry, presence, notifier,
		store.Conversations, store.Messages, metrics)

	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		workers.NewProcessStatsWorker(log, metrics, config.StatsInterval),
		workers.NewOccupancyWorker(log, registry, presence, metrics, config.StatsInterval),
	)
	supervised := make(chan struct{})
	go func() {
		defer close(supervised)
		sup.Run(ctx)
	}()

	// 4. Transport
	sockets := ws.NewServer(ctx, log, orchestrator, metrics, ws.Options{
		SendBufferSize:    config.SendBufferSize,
		InboundBufferSize: config.InboundBufferSize,
		MaxInflightEvents: config.MaxInflightEvents,
		PingInterval:      config.WSPingInterval,
		WriteTimeout:      config.WSWriteTimeout,
		ReadTimeout:       config.WSReadTimeout,
		MaxMessageSize:    config.WSMaxMessageSize,
		EventsPerSecond:   config.EventsPerSecond,
		EventBurst:        config.EventBurst,
		AllowedOrigin:     config.FrontendURL,
	})
	server := transport.NewServer(log, transport.Deps{
		Registry:      registry,
		Presence:      presence,
		Conversations: services.NewConversationService(log, store.Conversations, store.Messages),
		Sockets:       sockets,
		Metrics:       metrics,
		Tokens:        auth.NewTokenManager(config.JWTSecret, config.AuthTokenDuration),
		AllowedOrigin: config.FrontendURL,
	})

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting chat server", "address", config.Addr(), "store", config.StoreDriver)
		if err := server.Start(config.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 5. Wait for Stop or Error
	code := exitOK
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err = <-errChan:
		code = exitRuntime
		stop()
	}

	// 6. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error("HTTP shutdown failed", "error", shutdownErr)
	}
	sup.Stop()
	<-supervised
	log.Info("Program stopped cleanly")
	return code, err
}
