// Package processor consumes file-process jobs and runs the full
// download, merge and upload pipeline for one file at a time. The
// browser session, the network uplink and the scratch disk are all
// shared, so processing is strictly serialized: a single consumer with
// a prefetch of one.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/capture"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/database"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/pipeline"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/queue"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/transfer"
	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
)

// mergedExtension is the container extension of every merged artifact;
// canonical destination names are the stored display name plus this.
const mergedExtension = ".mp4"

var log = logger.Get("Processor")

type (
	streamLocator interface {
		Locate(ctx context.Context, viewerURL string) (*capture.Streams, error)
	}

	trackDownloader interface {
		FetchBoth(ctx context.Context, video pipeline.TrackFetch, audio pipeline.TrackFetch, headers capture.Headers) error
	}

	trackMerger interface {
		Merge(ctx context.Context, videoPath string, audioPath string, outputPath string) error
	}

	artifactUploader interface {
		Upload(ctx context.Context, localPath string, destinationFolder string, canonicalName string) (string, error)
	}

	dataStore interface {
		GetFile(db database.Queryable, id uuid.UUID) (*transfer.File, error)
		GetFolder(db database.Queryable, id uuid.UUID) (*transfer.Folder, error)
		UpdateFile(db database.Queryable, file *transfer.File) error
	}

	// Service is the file-process worker.
	Service struct {
		config     pipeline.Config
		db         database.Queryable
		store      dataStore
		locator    streamLocator
		downloader trackDownloader
		merger     trackMerger
		uploader   artifactUploader
		jobs       queue.JobQueue
	}
)

// New constructs the processor from its collaborators.
func New(
	config pipeline.Config,
	db database.Queryable,
	store dataStore,
	locator streamLocator,
	downloader trackDownloader,
	merger trackMerger,
	uploader artifactUploader,
	jobs queue.JobQueue,
) *Service {
	return &Service{
		config:     config,
		db:         db,
		store:      store,
		locator:    locator,
		downloader: downloader,
		merger:     merger,
		uploader:   uploader,
		jobs:       jobs,
	}
}

// Run blocks consuming the file-process queue until the context is
// cancelled. Exactly one job is in flight at any moment.
func (service *Service) Run(ctx context.Context) error {
	return service.jobs.Consume(ctx, queue.FileProcessQueue, 1, service.HandleProcessJob)
}

// HandleProcessJob runs the pipeline for one file. Workspace artifacts
// are removed whatever the outcome; the file row records it.
func (service *Service) HandleProcessJob(ctx context.Context, body []byte) error {
	var job queue.ProcessFileJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("discarding malformed file-process payload: %w", err)
	}

	file, err := service.store.GetFile(service.db, job.FileID)
	if err != nil {
		if errors.Is(err, transfer.ErrFileNotFound) {
			log.Warnf("Dropping process job for unknown file %s\n", job.FileID)
		}

		return err
	}

	folder, err := service.store.GetFolder(service.db, file.FolderID)
	if err != nil {
		return fmt.Errorf("file %s references missing folder %s: %w", file.ID, file.FolderID, err)
	}

	if err := file.MarkProcessing(); err != nil {
		return fmt.Errorf("file %s cannot be processed: %w", file.ID, err)
	}
	if err := service.store.UpdateFile(service.db, file); err != nil {
		return err
	}

	log.Emit(logger.NEW, "Processing file %s (%s)\n", file.ID, file.Name)
	processErr := service.process(ctx, file, folder)
	if processErr != nil {
		file.MarkFailed(processErr.Error())
		if err := service.store.UpdateFile(service.db, file); err != nil {
			log.Errorf("Failed to record failure for file %s: %v\n", file.ID, err)
		}

		return fmt.Errorf("processing of file %s failed: %w", file.ID, processErr)
	}

	file.MarkCompleted()
	log.Emit(logger.SUCCESS, "File %s uploaded to %q\n", file.ID, folder.Name)
	return service.store.UpdateFile(service.db, file)
}

// process runs the pipeline stages against a fresh workspace. The last
// known local path is kept on the row for diagnosis even though the
// artifacts themselves are cleaned away.
func (service *Service) process(ctx context.Context, file *transfer.File, folder *transfer.Folder) error {
	workspace, err := pipeline.NewWorkspace(service.config.DownloadDir)
	if err != nil {
		return fmt.Errorf("failed to prepare workspace: %w", err)
	}

	finalPath := ""
	defer func() { workspace.Cleanup(finalPath) }()

	streams, err := service.locator.Locate(ctx, file.OriginalURL)
	if err != nil {
		return fmt.Errorf("stream capture: %w", err)
	}

	if err := service.downloader.FetchBoth(ctx,
		pipeline.TrackFetch{ResourceURL: streams.VideoURL, OutputPath: workspace.VideoPath()},
		pipeline.TrackFetch{ResourceURL: streams.AudioURL, OutputPath: workspace.AudioPath()},
		streams.Headers,
	); err != nil {
		return fmt.Errorf("download: %w", err)
	}

	if err := service.merger.Merge(ctx, workspace.VideoPath(), workspace.AudioPath(), workspace.OutputPath()); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	file.SetLocalPath(workspace.OutputPath())

	uploaded, err := service.uploader.Upload(ctx, workspace.OutputPath(), folder.Name, file.Name+mergedExtension)
	if uploaded != "" {
		finalPath = uploaded
		file.SetLocalPath(uploaded)
	}
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	return nil
}
