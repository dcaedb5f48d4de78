package queue

import (
	"context"

	"github.com/google/uuid"
)

// Queue names. Both queues are durable; jobs carry small identifying
// payloads (ids/URLs) rather than data.
const (
	FolderScanQueue  = "folder-scan"
	FileProcessQueue = "file-process"
)

type (
	// ScanFolderJob requests a scan of a single remote folder. ParentID
	// and ParentPath are populated only for subfolders discovered during
	// the scan of their parent.
	ScanFolderJob struct {
		FolderID   uuid.UUID  `json:"folderId"`
		FolderURL  string     `json:"folderUrl"`
		ParentID   *uuid.UUID `json:"parentId,omitempty"`
		ParentPath string     `json:"parentPath,omitempty"`
	}

	// ProcessFileJob requests the full capture/download/merge/upload
	// chain for a single file.
	ProcessFileJob struct {
		FileID uuid.UUID `json:"fileId"`
	}

	// Handler processes one delivered job body. Returning nil acknowledges
	// the job; returning an error drops it WITHOUT requeueing - failures
	// are recorded on the owning entity and retried via an explicit,
	// operator-visible action rather than opaque queue replay.
	Handler func(ctx context.Context, body []byte) error

	// JobQueue is the durable FIFO queue contract the workers consume
	// from and the control surface publishes to.
	JobQueue interface {
		Publish(ctx context.Context, queueName string, payload any) error

		// Consume blocks, delivering jobs from the named queue to the
		// handler until the context is cancelled. At most 'prefetch'
		// jobs are in flight at once across all consumers of the queue.
		Consume(ctx context.Context, queueName string, prefetch int, handler Handler) error
	}
)
