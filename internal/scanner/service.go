package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/capture"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/database"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/queue"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/session"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/transfer"
	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/worker"
)

const listViewToggleQuery = `div[aria-label="Switch to list view"], button[aria-label*="List"]`

var log = logger.Get("Scanner")

// Config controls how aggressively the scanner crawls folder listings.
type Config struct {
	Parallelism   int           `yaml:"parallelism" env:"SCANNER_PARALLELISM" env-default:"2"`
	ScrollPasses  int           `yaml:"scroll_passes" env:"SCANNER_SCROLL_PASSES" env-default:"8"`
	ScrollSettle  time.Duration `yaml:"scroll_settle" env:"SCANNER_SCROLL_SETTLE" env-default:"1500ms"`
	SettleDelay   time.Duration `yaml:"settle_delay" env:"SCANNER_SETTLE_DELAY" env-default:"3s"`
}

type (
	pageProvider interface {
		NewPage(ctx context.Context) (session.Page, error)
	}

	dataStore interface {
		GetFolder(db database.Queryable, id uuid.UUID) (*transfer.Folder, error)
		UpdateFolder(db database.Queryable, folder *transfer.Folder) error
		CreateFolder(db database.Queryable, folder *transfer.Folder) error
		CreateFiles(db database.Queryable, files []*transfer.File) error
	}

	// Service consumes folder-scan jobs: each job crawls one folder
	// listing, persists the videos found there, and fans out scan jobs
	// for every subfolder candidate.
	Service struct {
		config Config
		db     database.Queryable
		store  dataStore
		pages  pageProvider
		jobs   queue.JobQueue
		pool   *worker.WorkerPool
	}
)

// New constructs a scanner service. Zero or negative config values fall
// back to their defaults.
func New(config Config, db database.Queryable, store dataStore, pages pageProvider, jobs queue.JobQueue) *Service {
	if config.Parallelism <= 0 {
		config.Parallelism = 2
	}
	if config.ScrollPasses <= 0 {
		config.ScrollPasses = 8
	}
	if config.ScrollSettle <= 0 {
		config.ScrollSettle = 1500 * time.Millisecond
	}
	if config.SettleDelay <= 0 {
		config.SettleDelay = 3 * time.Second
	}

	return &Service{
		config: config,
		db:     db,
		store:  store,
		pages:  pages,
		jobs:   jobs,
		pool:   worker.NewWorkerPool(),
	}
}

// Run blocks consuming the folder-scan queue until the context is
// cancelled. Each worker holds at most one unacknowledged job.
func (service *Service) Run(ctx context.Context) error {
	for i := 0; i < service.config.Parallelism; i++ {
		label := fmt.Sprintf("FolderScan:%d", i)
		if err := service.pool.PushWorker(worker.NewWorker(label, func(ctx context.Context) error {
			return service.jobs.Consume(ctx, queue.FolderScanQueue, 1, service.HandleScanJob)
		})); err != nil {
			return err
		}
	}

	if err := service.pool.Start(ctx); err != nil {
		return err
	}

	service.pool.Wait()
	return nil
}

// HandleScanJob performs one folder scan end to end. Any returned error
// causes the job to be dropped; the folder row carries the outcome.
func (service *Service) HandleScanJob(ctx context.Context, body []byte) error {
	var job queue.ScanFolderJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("discarding malformed folder-scan payload: %w", err)
	}

	folder, err := service.store.GetFolder(service.db, job.FolderID)
	if err != nil {
		if errors.Is(err, transfer.ErrFolderNotFound) {
			log.Warnf("Dropping scan job for unknown folder %s\n", job.FolderID)
		}

		return err
	}

	if err := folder.MarkScanning(); err != nil {
		return fmt.Errorf("folder %s cannot be scanned: %w", folder.ID, err)
	}
	if err := service.store.UpdateFolder(service.db, folder); err != nil {
		return err
	}

	log.Emit(logger.NEW, "Scanning folder %s (%s)\n", folder.ID, folder.URL)
	listing, scanErr := service.crawl(ctx, folder.URL)
	if scanErr == nil {
		scanErr = service.persistListing(ctx, folder, listing)
	}

	if scanErr != nil {
		folder.MarkFailed()
		if err := service.store.UpdateFolder(service.db, folder); err != nil {
			log.Errorf("Failed to record scan failure for folder %s: %v\n", folder.ID, err)
		}

		return fmt.Errorf("scan of folder %s failed: %w", folder.ID, scanErr)
	}

	if err := folder.MarkCompleted(); err != nil {
		return err
	}

	log.Emit(logger.SUCCESS, "Folder %s scanned: %d video(s), %d subfolder(s)\n",
		folder.ID, len(listing.Videos), len(listing.Subfolders))
	return service.store.UpdateFolder(service.db, folder)
}

// crawl loads the folder listing in a fresh page, coerces the list
// layout, scrolls the full listing in to the DOM and parses it.
func (service *Service) crawl(ctx context.Context, folderURL string) (*Listing, error) {
	page, err := service.pages.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if err := page.Navigate(ctx, folderURL); err != nil {
		return nil, err
	}
	if err := wait(ctx, service.config.SettleDelay); err != nil {
		return nil, err
	}

	if !session.IsAuthenticated(ctx, page) {
		return nil, capture.ErrSessionExpired
	}

	// Grid layout tooltips omit the file-type decoration we classify
	// on, so flip to the list layout when the toggle is present.
	if exists, _ := page.Exists(ctx, listViewToggleQuery); exists {
		if err := page.Click(ctx, listViewToggleQuery); err != nil {
			log.Debugf("List view toggle click failed, continuing with current layout: %v\n", err)
		}
		if err := wait(ctx, service.config.ScrollSettle); err != nil {
			return nil, err
		}
	}

	for i := 0; i < service.config.ScrollPasses; i++ {
		if err := page.PressEnd(ctx); err != nil {
			return nil, fmt.Errorf("failed to scroll listing: %w", err)
		}
		if err := wait(ctx, service.config.ScrollSettle); err != nil {
			return nil, err
		}
	}

	if title, err := page.Title(ctx); err == nil {
		log.Debugf("Listing settled: %q (%s)\n", title, folderURL)
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot listing markup: %w", err)
	}

	return ParseListing(html)
}

// persistListing writes the discovered files in bulk, creates subfolder
// rows and fans out their scan jobs, and renames the folder to the
// extracted title.
func (service *Service) persistListing(ctx context.Context, folder *transfer.Folder, listing *Listing) error {
	if listing.Title != "" {
		folder.Rename(listing.Title)
	}

	files := make([]*transfer.File, 0, len(listing.Videos))
	for _, video := range listing.Videos {
		files = append(files, transfer.NewFile(folder.ID, video.URL, video.Name))
	}
	if err := service.store.CreateFiles(service.db, files); err != nil {
		return fmt.Errorf("failed to persist %d discovered file(s): %w", len(files), err)
	}

	for _, sub := range listing.Subfolders {
		child := transfer.NewSubfolder(sub.URL, sub.Name, folder.ID, folder.Path)
		if err := service.store.CreateFolder(service.db, child); err != nil {
			return fmt.Errorf("failed to persist subfolder %q: %w", sub.Name, err)
		}

		if err := service.jobs.Publish(ctx, queue.FolderScanQueue, queue.ScanFolderJob{
			FolderID:   child.ID,
			FolderURL:  child.URL,
			ParentID:   &folder.ID,
			ParentPath: folder.Path,
		}); err != nil {
			return fmt.Errorf("failed to enqueue scan for subfolder %q: %w", sub.Name, err)
		}
	}

	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
