package transfer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// File is a single video item discovered inside a Folder. A file cannot
// exist without its owning folder. LocalPath records the last known local
// artifact so that failures can be diagnosed after the fact.
type File struct {
	ID          uuid.UUID `db:"id"`
	FolderID    uuid.UUID `db:"folder_id"`
	OriginalURL string    `db:"original_url"`
	Name        string    `db:"name"`
	Status      Status    `db:"status"`
	RetryCount  int       `db:"retry_count"`
	ErrorLog    *string   `db:"error_log"`
	LocalPath   *string   `db:"local_path"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func NewFile(folderID uuid.UUID, originalURL string, name string) *File {
	now := time.Now()
	return &File{
		ID:          uuid.New(),
		FolderID:    folderID,
		OriginalURL: originalURL,
		Name:        name,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (file *File) MarkProcessing() error {
	if file.Status != StatusPending {
		return fmt.Errorf("file %s cannot start processing from status %s", file.ID, file.Status)
	}

	file.Status = StatusProcessing
	return nil
}

func (file *File) MarkCompleted() {
	file.Status = StatusCompleted
	file.ErrorLog = nil
}

// MarkFailed records the failure message and bumps the retry counter.
// RetryCount counts recorded failures over the lifetime of the file and
// never decreases.
func (file *File) MarkFailed(message string) {
	file.Status = StatusFailed
	file.ErrorLog = &message
	file.RetryCount++
}

// ResetForRetry moves a FAILED file back to PENDING and clears the error
// log. The retry count is deliberately preserved for auditing.
func (file *File) ResetForRetry() error {
	if file.Status != StatusFailed {
		return fmt.Errorf("file %s is not failed (status %s); nothing to retry", file.ID, file.Status)
	}

	file.Status = StatusPending
	file.ErrorLog = nil
	return nil
}

// CanRetry reports whether the file has failed fewer times than the
// provided maximum.
func (file *File) CanRetry(maxRetries int) bool {
	return file.RetryCount < maxRetries
}

func (file *File) SetLocalPath(path string) {
	file.LocalPath = &path
}

func (file *File) String() string {
	return fmt.Sprintf("File{ID=%s name=%q status=%s retries=%d}", file.ID, file.Name, file.Status, file.RetryCount)
}
