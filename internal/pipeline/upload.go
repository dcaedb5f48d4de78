package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
)

// ErrUploadFailure indicates the external sync client exited non-zero.
var ErrUploadFailure = errors.New("failed to sync artifact to remote store")

// Uploader pushes the merged artifact to the destination store via the
// external remote-sync tool.
type Uploader struct {
	config Config
	runner Runner
}

func NewUploader(config Config, runner Runner) *Uploader {
	return &Uploader{config: config, runner: runner}
}

// Upload renames the local artifact to its canonical name and syncs it
// into the named destination folder on the remote. The rename is best
// effort: a failure is logged and the upload proceeds with the original
// path. The final local path is returned so the caller can clean it up.
func (uploader *Uploader) Upload(ctx context.Context, localPath string, destinationFolder string, canonicalName string) (string, error) {
	finalPath := localPath
	renamedPath := filepath.Join(filepath.Dir(localPath), canonicalName)
	if renamedPath != localPath {
		if err := os.Rename(localPath, renamedPath); err != nil {
			log.Warnf("Failed to rename artifact to %s: %v; uploading as-is\n", canonicalName, err)
		} else {
			finalPath = renamedPath
		}
	}

	destination := fmt.Sprintf("%s:%s", uploader.config.RemoteName, destinationFolder)
	log.Infof("Uploading %s to %s...\n", filepath.Base(finalPath), destination)

	args := []string{
		"copy", finalPath, destination,
		"--config", uploader.config.SyncConfigPath,
	}
	if _, stderr, err := uploader.runner.Run(ctx, uploader.config.SyncBin, args...); err != nil {
		return finalPath, fmt.Errorf("%w: %v: %s", ErrUploadFailure, err, tail(stderr, 300))
	}

	log.Emit(logger.SUCCESS, "Upload complete: %s\n", filepath.Base(finalPath))
	return finalPath, nil
}
