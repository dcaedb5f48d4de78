package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrMergeFailure indicates the external muxer exited non-zero; the
// operator diagnoses it from the captured stderr.
var ErrMergeFailure = errors.New("failed to mux video and audio tracks")

// Merger combines the two raw tracks into one playable container by
// invoking the external muxer. The video codec stream is copied as-is;
// audio is re-encoded to AAC.
type Merger struct {
	config Config
	runner Runner
}

func NewMerger(config Config, runner Runner) *Merger {
	return &Merger{config: config, runner: runner}
}

func (merger *Merger) Merge(ctx context.Context, videoPath string, audioPath string, outputPath string) error {
	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		outputPath,
		"-y",
	}

	if _, stderr, err := merger.runner.Run(ctx, merger.config.MuxerBin, args...); err != nil {
		return fmt.Errorf("%w: %v: %s", ErrMergeFailure, err, tail(stderr, 300))
	}

	log.Infof("Merged tracks into %s\n", outputPath)
	return nil
}
