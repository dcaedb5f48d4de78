package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/api"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/capture"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/database"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/pipeline"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/processor"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/queue"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/scanner"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/session"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/session/chrome"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/transfer"
	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
)

var log = logger.Get("Core")

// RunnableService is any long-lived component driven by the server's
// lifecycle context.
type RunnableService interface {
	Run(context.Context) error
}

// TransferServer is the top-level object for the server. It owns the
// shared browser session, the database and broker connections, and the
// three long-running services: the REST gateway, the folder scanner
// and the file processor.
type TransferServer struct {
	config TransferConfig
}

func New(config TransferConfig) *TransferServer {
	return &TransferServer{config: config}
}

// Run brings up every supporting connection and service and blocks
// until the context is cancelled or a service crashes.
func (server *TransferServer) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	db := database.New()
	if err := db.Connect(server.config.Database); err != nil {
		return err
	}
	sqlxDb := db.GetSqlxDb()

	log.Emit(logger.NEW, "Connecting to message broker...\n")
	jobs, err := queue.Connect(server.config.Queue)
	if err != nil {
		return err
	}
	defer jobs.Close()

	log.Emit(logger.NEW, "Preparing browser session...\n")
	sessionManager := session.NewManager(server.config.Session, chrome.NewLauncher())
	if err := sessionManager.EnsureReady(ctx); err != nil {
		return fmt.Errorf("browser session unavailable: %w", err)
	}
	defer sessionManager.Shutdown()

	store := transfer.NewStore()
	transferService := transfer.NewService(sqlxDb, store, jobs, server.config.MaxRetries)

	runner := pipeline.NewExecRunner(server.config.Pipeline.CommandTimeout)
	processService := processor.New(
		server.config.Pipeline,
		sqlxDb,
		store,
		capture.NewLocator(server.config.Capture, sessionManager),
		pipeline.NewDownloader(server.config.Pipeline, runner),
		pipeline.NewMerger(server.config.Pipeline, runner),
		pipeline.NewUploader(server.config.Pipeline, runner),
		jobs,
	)

	scanService := scanner.New(server.config.Scanner, sqlxDb, store, sessionManager, jobs)
	gateway := api.NewRestGateway(&server.config.Rest, transferService, sqlxDb, jobs)

	wg := &sync.WaitGroup{}
	server.spawnAsyncService(ctx, wg, gateway, "rest-gateway", crashHandler)
	server.spawnAsyncService(ctx, wg, scanService, "folder-scanner", crashHandler)
	server.spawnAsyncService(ctx, wg, processService, "file-processor", crashHandler)
	log.Emit(logger.SUCCESS, "Transfer services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService runs the provided service as its own goroutine,
// reporting panics and errors through the crash handler.
func (server *TransferServer) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, label string, crash func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", label)
	wg.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}()
}
