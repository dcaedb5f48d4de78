package transfers

import (
	"time"

	"github.com/google/uuid"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/transfer"
)

type (
	// FolderDto is the response shape used by every endpoint that
	// returns folders.
	FolderDto struct {
		ID        uuid.UUID  `json:"id"`
		URL       string     `json:"url"`
		Name      string     `json:"name"`
		Path      string     `json:"path"`
		ParentID  *uuid.UUID `json:"parent_id"`
		Status    string     `json:"status"`
		CreatedAt time.Time  `json:"created_at"`
		UpdatedAt time.Time  `json:"updated_at"`
	}

	FileDto struct {
		ID          uuid.UUID `json:"id"`
		FolderID    uuid.UUID `json:"folder_id"`
		OriginalURL string    `json:"original_url"`
		Name        string    `json:"name"`
		Status      string    `json:"status"`
		RetryCount  int       `json:"retry_count"`
		ErrorLog    *string   `json:"error_log"`
	}

	// FileSummaryDto is the abbreviated file shape used by batch retry
	// responses.
	FileSummaryDto struct {
		ID          uuid.UUID `json:"id"`
		Name        string    `json:"name"`
		OriginalURL string    `json:"original_url"`
	}

	QueuedDto struct {
		Queued int `json:"queued"`
	}

	RetryBatchDto struct {
		Count int               `json:"count"`
		Files []*FileSummaryDto `json:"files"`
	}

	RequeuedDto struct {
		Requeued bool `json:"requeued"`
	}
)

func NewFolderDto(folder *transfer.Folder) *FolderDto {
	return &FolderDto{
		ID:        folder.ID,
		URL:       folder.URL,
		Name:      folder.Name,
		Path:      folder.Path,
		ParentID:  folder.ParentID,
		Status:    string(folder.Status),
		CreatedAt: folder.CreatedAt,
		UpdatedAt: folder.UpdatedAt,
	}
}

func NewFileDto(file *transfer.File) *FileDto {
	return &FileDto{
		ID:          file.ID,
		FolderID:    file.FolderID,
		OriginalURL: file.OriginalURL,
		Name:        file.Name,
		Status:      string(file.Status),
		RetryCount:  file.RetryCount,
		ErrorLog:    file.ErrorLog,
	}
}

func NewFileSummaryDto(file *transfer.File) *FileSummaryDto {
	return &FileSummaryDto{ID: file.ID, Name: file.Name, OriginalURL: file.OriginalURL}
}
