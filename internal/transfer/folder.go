package transfer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is shared by folders and files. Not every status is meaningful
// for both: SCANNING is only ever written to folders, and PROCESSING is
// reserved on folders (declared for parity with files, never written).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusScanning   Status = "SCANNING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// DefaultFolderName is used for newly requested folders until the scan
// discovers the real display name.
const DefaultFolderName = "Transfer"

// Folder is a remote source folder that has been requested for transfer.
// Path is the hierarchical path built from ancestor display names and is
// used to derive the destination folder name for uploads.
type Folder struct {
	ID        uuid.UUID  `db:"id"`
	URL       string     `db:"url"`
	Name      string     `db:"name"`
	Path      string     `db:"path"`
	ParentID  *uuid.UUID `db:"parent_id"`
	Status    Status     `db:"status"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// NewFolder constructs a PENDING top-level folder. An empty name falls
// back to DefaultFolderName until discovery provides the real one.
func NewFolder(url string, name string) *Folder {
	if name == "" {
		name = DefaultFolderName
	}

	now := time.Now()
	return &Folder{
		ID:        uuid.New(),
		URL:       url,
		Name:      name,
		Path:      "",
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewSubfolder constructs a PENDING folder discovered during the scan of
// its parent. The path is extended with the child's display name.
func NewSubfolder(url string, name string, parentID uuid.UUID, parentPath string) *Folder {
	folder := NewFolder(url, name)
	folder.ParentID = &parentID
	folder.Path = parentPath + "/" + name
	return folder
}

// MarkScanning moves the folder from PENDING to SCANNING; a folder can
// only be picked up for scanning once.
func (folder *Folder) MarkScanning() error {
	if folder.Status != StatusPending {
		return fmt.Errorf("folder %s cannot start scanning from status %s", folder.ID, folder.Status)
	}

	folder.Status = StatusScanning
	return nil
}

func (folder *Folder) MarkCompleted() error {
	if folder.Status != StatusScanning {
		return fmt.Errorf("folder %s cannot complete from status %s", folder.ID, folder.Status)
	}

	folder.Status = StatusCompleted
	return nil
}

// MarkFailed is valid from any status; a failure terminates this branch
// of the crawl.
func (folder *Folder) MarkFailed() {
	folder.Status = StatusFailed
}

// Rename replaces the placeholder display name with the discovered one.
func (folder *Folder) Rename(name string) {
	if name == "" {
		return
	}

	folder.Name = name
}

func (folder *Folder) String() string {
	return fmt.Sprintf("Folder{ID=%s status=%s}", folder.ID, folder.Status)
}
