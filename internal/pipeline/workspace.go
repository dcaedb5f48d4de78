package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
	"github.com/google/uuid"
)

// Workspace names the temporary artifacts for one item: the two raw
// tracks and the merged output. The stamp keeps concurrent items (and
// retries of the same item) from colliding on disk.
type Workspace struct {
	dir   string
	stamp string
}

func NewWorkspace(downloadDir string) (*Workspace, error) {
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	return &Workspace{dir: downloadDir, stamp: uuid.NewString()}, nil
}

func (ws *Workspace) VideoPath() string {
	return filepath.Join(ws.dir, fmt.Sprintf("video_%s.mp4", ws.stamp))
}

func (ws *Workspace) AudioPath() string {
	return filepath.Join(ws.dir, fmt.Sprintf("audio_%s.mp4", ws.stamp))
}

func (ws *Workspace) OutputPath() string {
	return filepath.Join(ws.dir, fmt.Sprintf("output_%s.mp4", ws.stamp))
}

// Cleanup removes every artifact this workspace may have produced, plus
// any extra paths (e.g. the renamed upload artifact). Absent files are
// fine; cleanup runs on success AND failure to bound disk usage under
// repeated failures.
func (ws *Workspace) Cleanup(extra ...string) {
	paths := append([]string{ws.VideoPath(), ws.AudioPath(), ws.OutputPath()}, extra...)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if err := os.Remove(path); err == nil {
			log.Emit(logger.REMOVE, "Deleted local artifact %s\n", filepath.Base(path))
		} else if !os.IsNotExist(err) {
			log.Warnf("Failed to delete local artifact %s: %v\n", path, err)
		}
	}
}
