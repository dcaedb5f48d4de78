package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/database"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/queue"
	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
)

// ErrRetryExhausted indicates a file has used up its retry budget and
// will not be re-enqueued.
var ErrRetryExhausted = errors.New("file has exhausted its retry budget")

type (
	jobPublisher interface {
		Publish(ctx context.Context, queueName string, payload any) error
	}

	dataStore interface {
		CreateFolder(db database.Queryable, folder *Folder) error
		GetFolder(db database.Queryable, id uuid.UUID) (*Folder, error)
		AllFolders(db database.Queryable) ([]*Folder, error)
		GetFile(db database.Queryable, id uuid.UUID) (*File, error)
		FilesForFolder(db database.Queryable, folderID uuid.UUID) ([]*File, error)
		FilesInStatus(db database.Queryable, status Status) ([]*File, error)
		UpdateFile(db database.Queryable, file *File) error
	}

	// Service is the orchestration layer over the folder/file store and
	// the job queue: it accepts new folders, fans out pending work and
	// drives retries. Everything else (scanning, processing) happens in
	// the queue consumers.
	Service struct {
		db         database.Queryable
		store      dataStore
		jobs       jobPublisher
		maxRetries int
	}
)

func NewService(db database.Queryable, store dataStore, jobs jobPublisher, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &Service{db: db, store: store, jobs: jobs, maxRetries: maxRetries}
}

// SubmitFolder registers a new root folder and enqueues its scan. An
// empty name means the folder starts with a placeholder; the scan
// renames it once the real title is known.
func (service *Service) SubmitFolder(ctx context.Context, url string, name string) (*Folder, error) {
	if name == "" {
		name = DefaultFolderName
	}

	folder := NewFolder(url, name)
	if err := service.store.CreateFolder(service.db, folder); err != nil {
		return nil, err
	}

	if err := service.jobs.Publish(ctx, queue.FolderScanQueue, queue.ScanFolderJob{
		FolderID:  folder.ID,
		FolderURL: folder.URL,
	}); err != nil {
		return nil, fmt.Errorf("folder %s persisted but scan could not be enqueued: %w", folder.ID, err)
	}

	log.Emit(logger.NEW, "Accepted folder %s (%s)\n", folder.ID, folder.URL)
	return folder, nil
}

func (service *Service) AllFolders(_ context.Context) ([]*Folder, error) {
	return service.store.AllFolders(service.db)
}

func (service *Service) GetFolder(_ context.Context, id uuid.UUID) (*Folder, error) {
	return service.store.GetFolder(service.db, id)
}

// FilesForFolder lists the files of one folder; the folder must exist.
func (service *Service) FilesForFolder(_ context.Context, folderID uuid.UUID) ([]*File, error) {
	if _, err := service.store.GetFolder(service.db, folderID); err != nil {
		return nil, err
	}

	return service.store.FilesForFolder(service.db, folderID)
}

// EnqueuePending publishes a process job for every file currently in
// the PENDING state and returns how many were enqueued.
func (service *Service) EnqueuePending(ctx context.Context) (int, error) {
	files, err := service.store.FilesInStatus(service.db, StatusPending)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, file := range files {
		if err := service.jobs.Publish(ctx, queue.FileProcessQueue, queue.ProcessFileJob{FileID: file.ID}); err != nil {
			return enqueued, fmt.Errorf("failed to enqueue file %s: %w", file.ID, err)
		}

		enqueued++
	}

	log.Infof("Enqueued %d pending file(s) for processing\n", enqueued)
	return enqueued, nil
}

// RetryFailed resets every failed file still inside its retry budget
// back to PENDING and enqueues it, returning the files that were
// re-enqueued. Files over budget are left alone.
func (service *Service) RetryFailed(ctx context.Context) ([]*File, error) {
	files, err := service.store.FilesInStatus(service.db, StatusFailed)
	if err != nil {
		return nil, err
	}

	retried := make([]*File, 0, len(files))
	for _, file := range files {
		if !file.CanRetry(service.maxRetries) {
			log.Debugf("Skipping file %s: %d attempt(s) already made\n", file.ID, file.RetryCount)
			continue
		}

		if err := service.retryFile(ctx, file); err != nil {
			return retried, err
		}

		retried = append(retried, file)
	}

	log.Infof("Re-enqueued %d failed file(s)\n", len(retried))
	return retried, nil
}

// RetryFile resets a single failed file and enqueues it. The retry
// count survives the reset so repeated failures stay visible, and a
// file over its budget is refused with ErrRetryExhausted.
func (service *Service) RetryFile(ctx context.Context, id uuid.UUID) (*File, error) {
	file, err := service.store.GetFile(service.db, id)
	if err != nil {
		return nil, err
	}

	if !file.CanRetry(service.maxRetries) {
		return nil, fmt.Errorf("%w: %d attempt(s) made", ErrRetryExhausted, file.RetryCount)
	}

	if err := service.retryFile(ctx, file); err != nil {
		return nil, err
	}

	return file, nil
}

func (service *Service) retryFile(ctx context.Context, file *File) error {
	if err := file.ResetForRetry(); err != nil {
		return err
	}
	if err := service.store.UpdateFile(service.db, file); err != nil {
		return err
	}

	return service.jobs.Publish(ctx, queue.FileProcessQueue, queue.ProcessFileJob{FileID: file.ID})
}
