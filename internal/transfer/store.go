package transfer

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/database"
	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
	"github.com/google/uuid"
)

var (
	ErrFolderNotFound = errors.New("folder does not exist")
	ErrFileNotFound   = errors.New("file does not exist")

	log = logger.Get("Transfer")

	pgsq = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
)

const (
	folderColumns = "id, url, name, path, parent_id, status, created_at, updated_at"
	fileColumns   = "id, folder_id, original_url, name, status, retry_count, error_log, local_path, created_at, updated_at"
)

type Store struct{}

func NewStore() *Store { return &Store{} }

func (store *Store) CreateFolder(db database.Queryable, folder *Folder) error {
	query, args, err := pgsq.
		Insert("transfer_folder").
		Columns("id", "url", "name", "path", "parent_id", "status", "created_at", "updated_at").
		Values(folder.ID, folder.URL, folder.Name, folder.Path, folder.ParentID, folder.Status, folder.CreatedAt, folder.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to construct folder insert: %w", err)
	}

	if _, err := db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to insert folder: %w", err)
	}

	return nil
}

func (store *Store) GetFolder(db database.Queryable, id uuid.UUID) (*Folder, error) {
	var folder Folder
	err := db.Get(&folder, "SELECT "+folderColumns+" FROM transfer_folder WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFolderNotFound
	} else if err != nil {
		return nil, err
	}

	return &folder, nil
}

func (store *Store) AllFolders(db database.Queryable) ([]*Folder, error) {
	var folders []*Folder
	if err := db.Select(&folders, "SELECT "+folderColumns+" FROM transfer_folder ORDER BY created_at DESC"); err != nil {
		return nil, err
	}

	return folders, nil
}

func (store *Store) UpdateFolder(db database.Queryable, folder *Folder) error {
	folder.UpdatedAt = time.Now()
	query, args, err := pgsq.
		Update("transfer_folder").
		Set("name", folder.Name).
		Set("path", folder.Path).
		Set("status", folder.Status).
		Set("updated_at", folder.UpdatedAt).
		Where(squirrel.Eq{"id": folder.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to construct folder update: %w", err)
	}

	if _, err := db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to update folder %s: %w", folder.ID, err)
	}

	return nil
}

// CreateFiles bulk-inserts the provided files in a single statement. A
// nil/empty slice is a no-op.
func (store *Store) CreateFiles(db database.Queryable, files []*File) error {
	if len(files) == 0 {
		return nil
	}

	builder := pgsq.
		Insert("transfer_file").
		Columns("id", "folder_id", "original_url", "name", "status", "retry_count", "error_log", "local_path", "created_at", "updated_at")
	for _, file := range files {
		builder = builder.Values(file.ID, file.FolderID, file.OriginalURL, file.Name, file.Status, file.RetryCount, file.ErrorLog, file.LocalPath, file.CreatedAt, file.UpdatedAt)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to construct file bulk insert: %w", err)
	}

	if _, err := db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to bulk insert %d files: %w", len(files), err)
	}

	log.Debugf("Bulk inserted %d files\n", len(files))
	return nil
}

func (store *Store) GetFile(db database.Queryable, id uuid.UUID) (*File, error) {
	var file File
	err := db.Get(&file, "SELECT "+fileColumns+" FROM transfer_file WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	} else if err != nil {
		return nil, err
	}

	return &file, nil
}

func (store *Store) FilesForFolder(db database.Queryable, folderID uuid.UUID) ([]*File, error) {
	var files []*File
	if err := db.Select(&files, "SELECT "+fileColumns+" FROM transfer_file WHERE folder_id = $1 ORDER BY created_at ASC", folderID); err != nil {
		return nil, err
	}

	return files, nil
}

func (store *Store) FilesInStatus(db database.Queryable, status Status) ([]*File, error) {
	var files []*File
	if err := db.Select(&files, "SELECT "+fileColumns+" FROM transfer_file WHERE status = $1 ORDER BY created_at ASC", status); err != nil {
		return nil, err
	}

	return files, nil
}

func (store *Store) UpdateFile(db database.Queryable, file *File) error {
	file.UpdatedAt = time.Now()
	query, args, err := pgsq.
		Update("transfer_file").
		Set("name", file.Name).
		Set("status", file.Status).
		Set("retry_count", file.RetryCount).
		Set("error_log", file.ErrorLog).
		Set("local_path", file.LocalPath).
		Set("updated_at", file.UpdatedAt).
		Where(squirrel.Eq{"id": file.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to construct file update: %w", err)
	}

	if _, err := db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to update file %s: %w", file.ID, err)
	}

	return nil
}
