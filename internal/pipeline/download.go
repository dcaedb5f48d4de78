package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/capture"
)

// ErrDownloadIntegrity means the downloaded artifact is too small to be
// media; the resource locator has usually expired, so a retry must
// recapture it rather than just re-download.
var ErrDownloadIntegrity = errors.New("downloaded artifact below minimum size; likely an error page")

type (
	// TrackFetch describes one track download.
	TrackFetch struct {
		ResourceURL string
		OutputPath  string
	}

	// Downloader drives the external multi-connection transfer tool.
	Downloader struct {
		config Config
		runner Runner
	}
)

func NewDownloader(config Config, runner Runner) *Downloader {
	return &Downloader{config: config, runner: runner}
}

// Fetch downloads one resource to the given path, replaying the captured
// session headers, then verifies the artifact is plausibly media.
func (downloader *Downloader) Fetch(ctx context.Context, fetch TrackFetch, headers capture.Headers) error {
	connections := strconv.Itoa(downloader.config.Connections)
	args := []string{
		"-x", connections,
		"-s", connections,
		"--max-tries=3",
		"--allow-overwrite=true",
		"--auto-file-renaming=false",
		"--header", "Cookie: " + headers.Cookie,
		"--header", "User-Agent: " + headers.UserAgent,
		"--header", "Referer: " + headers.Referer,
		"-d", filepath.Dir(fetch.OutputPath),
		"-o", filepath.Base(fetch.OutputPath),
		fetch.ResourceURL,
	}

	_, stderr, runErr := downloader.runner.Run(ctx, downloader.config.DownloaderBin, args...)

	// The size check comes first and applies regardless of the reported
	// exit status: the tool happily exits zero after saving an HTML error
	// page, and a "failed" run that produced a full-size file is still
	// diagnosable from the integrity side.
	info, statErr := os.Stat(fetch.OutputPath)
	if statErr == nil && info.Size() < downloader.config.MinArtifactBytes {
		return fmt.Errorf("%w: %d bytes at %s", ErrDownloadIntegrity, info.Size(), fetch.OutputPath)
	}

	if runErr != nil {
		if statErr == nil {
			log.Warnf("Download failed with partial file of %d bytes at %s\n", info.Size(), fetch.OutputPath)
		}
		return fmt.Errorf("download tool failed: %w: %s", runErr, tail(stderr, 300))
	}
	if statErr != nil {
		return fmt.Errorf("download produced no artifact at %s: %w", fetch.OutputPath, statErr)
	}

	log.Infof("Downloaded %s (%.2f MB)\n", filepath.Base(fetch.OutputPath), float64(info.Size())/1024/1024)
	return nil
}

// FetchBoth downloads the video and audio tracks concurrently. Running
// them in sequence would roughly double the wall-clock time per item.
// Both fetches are always joined; the first error wins.
func (downloader *Downloader) FetchBoth(ctx context.Context, video TrackFetch, audio TrackFetch, headers capture.Headers) error {
	var wg sync.WaitGroup
	errs := make([]error, 2)

	for i, fetch := range []TrackFetch{video, audio} {
		wg.Add(1)
		go func(i int, fetch TrackFetch) {
			defer wg.Done()
			errs[i] = downloader.Fetch(ctx, fetch, headers)
		}(i, fetch)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}
