package main

import (
	"chat-core/auth"
	"chat-core/contract"
	"chat-core/internal"
	"chat-core/observability"
	"chat-core/repositories"
	"chat-core/runtime"
	"chat-core/runtime/workers"
	"chat-core/search"
	"chat-core/services"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatcore terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires the core and hands stdin to the shell. Every resource is released
// by its defer before the exit code reaches main.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	coreConfig, err := internal.LoadConfig()
	if err != nil {
		return exitConfig, fmt.Errorf("core config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB) and the store on top of it
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	store := repositories.NewBadgerStore(db, log)
	defer store.Close()

	index, err := search.NewIndex(log)
	if err != nil {
		return exitRuntime, fmt.Errorf("search index opening failed: %w", err)
	}
	defer func() { _ = index.Close() }()

	// 3. Metrics and the debug server
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	if config.DebugPort > 0 {
		handler := internal.NewDebugHandler(db, repositories.NodeMapper, repositories.NodeKeyPrefix,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		internal.StartDebugServer(ctx, fmt.Sprintf("%s:%d", config.DebugHost, config.DebugPort), handler, log)
	}

	// 4. Services
	clock := contract.SystemClock{}
	profiles := repositories.NewUserRepository(store)
	blocks := services.NewBlockService(store, clock, log)
	unread := services.NewUnreadService(store, clock, log, coreConfig)
	messages := services.NewMessageService(store, blocks, unread, clock, log, metrics, coreConfig)
	presence := services.NewPresenceService(store, profiles, blocks, clock, log, coreConfig)

	// 5. Supervised conversation views
	supervisor := workers.NewSupervisor(log).WithRestartDelay(config.RestartInterval)
	views := runtime.NewRegistry(ctx, supervisor, workers.ConversationDeps{
		Store:    store,
		Messages: messages,
		Unread:   unread,
		Blocks:   blocks,
		Profiles: profiles,
		Index:    index,
		Clock:    clock,
		Log:      log,
		Metrics:  metrics,
		Config:   coreConfig,
	})
	defer func() {
		views.CloseAll()
		supervisor.Stop()
		supervisor.Wait()
	}()

	location, err := coreConfig.Location()
	if err != nil {
		return exitConfig, err
	}
	sh := &shell{
		in:       os.Stdin,
		out:      os.Stdout,
		issuer:   auth.NewTokenIssuer(config.AuthSecret, config.AuthTokenDuration),
		clock:    clock,
		messages: messages,
		unread:   unread,
		blocks:   blocks,
		presence: presence,
		profiles: profiles,
		views:    views,
		colours:  config.Colours,
		location: location,
	}
	if err = sh.run(ctx); err != nil {
		return exitRuntime, err
	}
	return exitOK, nil
}
