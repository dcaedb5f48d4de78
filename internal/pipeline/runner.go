// Package pipeline wraps the three external tools the transfer chain
// depends on (multi-connection downloader, muxer, remote sync client).
// Each is a black-box subprocess with an argument/exit-code contract,
// abstracted behind Runner so stage-level logic is testable without
// shelling out.
package pipeline

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
)

var log = logger.Get("Pipeline")

type (
	// Runner executes one external command to completion.
	Runner interface {
		Run(ctx context.Context, name string, args ...string) (stdout string, stderr string, err error)
	}

	Config struct {
		// DownloadDir holds all temporary per-item artifacts.
		DownloadDir string `yaml:"download_dir" env:"PIPELINE_DOWNLOAD_DIR" env-default:"downloads"`

		DownloaderBin string `yaml:"downloader_bin" env:"PIPELINE_DOWNLOADER_BIN" env-default:"aria2c"`
		MuxerBin      string `yaml:"muxer_bin" env:"PIPELINE_MUXER_BIN" env-default:"ffmpeg"`
		SyncBin       string `yaml:"sync_bin" env:"PIPELINE_SYNC_BIN" env-default:"rclone"`

		// Connections is the per-download connection/split count handed
		// to the downloader.
		Connections int `yaml:"connections" env:"PIPELINE_CONNECTIONS" env-default:"8"`

		// MinArtifactBytes is the integrity threshold; anything smaller
		// is an error page, not media.
		MinArtifactBytes int64 `yaml:"min_artifact_bytes" env:"PIPELINE_MIN_ARTIFACT_BYTES" env-default:"100000"`

		// RemoteName and SyncConfigPath identify the destination store
		// for the sync client.
		RemoteName     string `yaml:"remote_name" env:"PIPELINE_REMOTE_NAME" env-required:"true"`
		SyncConfigPath string `yaml:"sync_config_path" env:"PIPELINE_SYNC_CONFIG" env-default:"config/rclone.conf"`

		// CommandTimeout bounds every subprocess invocation; there is no
		// other way to cancel a stuck external tool.
		CommandTimeout time.Duration `yaml:"command_timeout" env:"PIPELINE_COMMAND_TIMEOUT" env-default:"30m"`
	}

	execRunner struct {
		timeout time.Duration
	}
)

func NewExecRunner(timeout time.Duration) Runner {
	if timeout == 0 {
		timeout = 30 * time.Minute
	}

	return &execRunner{timeout: timeout}
}

func (runner *execRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, runner.timeout)
	defer cancel()

	log.Debugf("Executing %s %v\n", name, args)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// tail returns at most the last n bytes of s; external tools produce
// enormous output and only the end is diagnostic.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[len(s)-n:]
}
