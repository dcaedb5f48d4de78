package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/capture"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/pipeline"
)

var errToolFailed = errors.New("test: tool exited non-zero")

type invocation struct {
	name string
	args []string
}

// fakeRunner records every invocation and lets the test decide what the
// "tool" writes to disk and returns.
type fakeRunner struct {
	mu          sync.Mutex
	invocations []invocation

	// onRun, when set, simulates the tool's side effects for one
	// invocation and provides its stderr/error.
	onRun func(name string, args []string) (string, error)
}

func (runner *fakeRunner) Run(_ context.Context, name string, args ...string) (string, string, error) {
	runner.mu.Lock()
	runner.invocations = append(runner.invocations, invocation{name: name, args: args})
	runner.mu.Unlock()

	if runner.onRun != nil {
		stderr, err := runner.onRun(name, args)
		return "", stderr, err
	}

	return "", "", nil
}

func (runner *fakeRunner) recorded() []invocation {
	runner.mu.Lock()
	defer runner.mu.Unlock()
	return append([]invocation{}, runner.invocations...)
}

// outputPathFromArgs reconstructs the artifact path from the download
// tool's -d and -o arguments.
func outputPathFromArgs(args []string) string {
	dir, base := "", ""
	for i := 0; i < len(args)-1; i++ {
		switch args[i] {
		case "-d":
			dir = args[i+1]
		case "-o":
			base = args[i+1]
		}
	}

	return filepath.Join(dir, base)
}

func testConfig(t *testing.T) pipeline.Config {
	return pipeline.Config{
		DownloadDir:      t.TempDir(),
		DownloaderBin:    "aria2c",
		MuxerBin:         "ffmpeg",
		SyncBin:          "rclone",
		Connections:      8,
		MinArtifactBytes: 1000,
		RemoteName:       "remote",
		SyncConfigPath:   "/etc/rclone.conf",
	}
}

func testHeaders() capture.Headers {
	return capture.Headers{Cookie: "SID=abc", UserAgent: "agent/1.0", Referer: "https://drive.google.com/"}
}

func Test_Fetch_UndersizedArtifactFailsIntegrityEvenWhenToolSucceeds(t *testing.T) {
	t.Parallel()

	config := testConfig(t)
	runner := &fakeRunner{onRun: func(_ string, args []string) (string, error) {
		// The tool reports success but saved a small error page.
		return "", os.WriteFile(outputPathFromArgs(args), make([]byte, 120), 0o644)
	}}

	downloader := pipeline.NewDownloader(config, runner)
	err := downloader.Fetch(context.Background(), pipeline.TrackFetch{
		ResourceURL: "https://rr1.example.com/videoplayback?clen=1",
		OutputPath:  filepath.Join(config.DownloadDir, "video.mp4"),
	}, testHeaders())

	assert.ErrorIs(t, err, pipeline.ErrDownloadIntegrity)
}

func Test_Fetch_UndersizedArtifactFailsIntegrityEvenWhenToolFails(t *testing.T) {
	t.Parallel()

	config := testConfig(t)
	runner := &fakeRunner{onRun: func(_ string, args []string) (string, error) {
		if err := os.WriteFile(outputPathFromArgs(args), make([]byte, 120), 0o644); err != nil {
			return "", err
		}

		return "connection reset", errToolFailed
	}}

	downloader := pipeline.NewDownloader(config, runner)
	err := downloader.Fetch(context.Background(), pipeline.TrackFetch{
		ResourceURL: "https://rr1.example.com/videoplayback?clen=1",
		OutputPath:  filepath.Join(config.DownloadDir, "video.mp4"),
	}, testHeaders())

	// The integrity verdict must not depend on the tool's exit status.
	assert.ErrorIs(t, err, pipeline.ErrDownloadIntegrity)
}

func Test_Fetch_FullSizeArtifactSucceeds(t *testing.T) {
	t.Parallel()

	config := testConfig(t)
	runner := &fakeRunner{onRun: func(_ string, args []string) (string, error) {
		return "", os.WriteFile(outputPathFromArgs(args), make([]byte, 5000), 0o644)
	}}

	downloader := pipeline.NewDownloader(config, runner)
	err := downloader.Fetch(context.Background(), pipeline.TrackFetch{
		ResourceURL: "https://rr1.example.com/videoplayback?clen=1",
		OutputPath:  filepath.Join(config.DownloadDir, "video.mp4"),
	}, testHeaders())
	require.NoError(t, err)

	invocations := runner.recorded()
	require.Len(t, invocations, 1)
	assert.Equal(t, "aria2c", invocations[0].name)
	assert.Contains(t, invocations[0].args, "Cookie: SID=abc")
	assert.Contains(t, invocations[0].args, "User-Agent: agent/1.0")
	assert.Contains(t, invocations[0].args, "Referer: https://drive.google.com/")
	assert.Contains(t, invocations[0].args, "https://rr1.example.com/videoplayback?clen=1")
}

func Test_Fetch_MissingArtifactFails(t *testing.T) {
	t.Parallel()

	config := testConfig(t)
	downloader := pipeline.NewDownloader(config, &fakeRunner{})
	err := downloader.Fetch(context.Background(), pipeline.TrackFetch{
		ResourceURL: "https://rr1.example.com/videoplayback?clen=1",
		OutputPath:  filepath.Join(config.DownloadDir, "video.mp4"),
	}, testHeaders())

	assert.Error(t, err)
	assert.NotErrorIs(t, err, pipeline.ErrDownloadIntegrity)
}

func Test_FetchBoth_DownloadsBothTracksAndJoins(t *testing.T) {
	t.Parallel()

	config := testConfig(t)
	runner := &fakeRunner{onRun: func(_ string, args []string) (string, error) {
		return "", os.WriteFile(outputPathFromArgs(args), make([]byte, 5000), 0o644)
	}}

	downloader := pipeline.NewDownloader(config, runner)
	err := downloader.FetchBoth(context.Background(),
		pipeline.TrackFetch{ResourceURL: "https://rr1.example.com/videoplayback?mime=video", OutputPath: filepath.Join(config.DownloadDir, "video.mp4")},
		pipeline.TrackFetch{ResourceURL: "https://rr1.example.com/videoplayback?mime=audio", OutputPath: filepath.Join(config.DownloadDir, "audio.mp4")},
		testHeaders(),
	)
	require.NoError(t, err)
	assert.Len(t, runner.recorded(), 2)
}

func Test_FetchBoth_OneTrackFailingFailsTheFetch(t *testing.T) {
	t.Parallel()

	config := testConfig(t)
	runner := &fakeRunner{onRun: func(_ string, args []string) (string, error) {
		path := outputPathFromArgs(args)
		if filepath.Base(path) == "audio.mp4" {
			return "403 forbidden", errToolFailed
		}

		return "", os.WriteFile(path, make([]byte, 5000), 0o644)
	}}

	downloader := pipeline.NewDownloader(config, runner)
	err := downloader.FetchBoth(context.Background(),
		pipeline.TrackFetch{ResourceURL: "video-url", OutputPath: filepath.Join(config.DownloadDir, "video.mp4")},
		pipeline.TrackFetch{ResourceURL: "audio-url", OutputPath: filepath.Join(config.DownloadDir, "audio.mp4")},
		testHeaders(),
	)

	assert.Error(t, err)
	// Both invocations must have been joined before returning.
	assert.Len(t, runner.recorded(), 2)
}

func Test_Merge_ArgumentContract(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	merger := pipeline.NewMerger(testConfig(t), runner)
	require.NoError(t, merger.Merge(context.Background(), "/tmp/v.mp4", "/tmp/a.mp4", "/tmp/out.mp4"))

	invocations := runner.recorded()
	require.Len(t, invocations, 1)
	assert.Equal(t, "ffmpeg", invocations[0].name)
	assert.Equal(t, []string{"-i", "/tmp/v.mp4", "-i", "/tmp/a.mp4", "-c:v", "copy", "-c:a", "aac", "/tmp/out.mp4", "-y"}, invocations[0].args)
}

func Test_Merge_ToolFailureWrapsMergeFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{onRun: func(string, []string) (string, error) {
		return "Invalid data found when processing input", errToolFailed
	}}

	merger := pipeline.NewMerger(testConfig(t), runner)
	err := merger.Merge(context.Background(), "/tmp/v.mp4", "/tmp/a.mp4", "/tmp/out.mp4")
	assert.ErrorIs(t, err, pipeline.ErrMergeFailure)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func Test_Upload_RenamesToCanonicalNameAndSyncs(t *testing.T) {
	t.Parallel()

	config := testConfig(t)
	localPath := filepath.Join(config.DownloadDir, "output_1234.mp4")
	require.NoError(t, os.WriteFile(localPath, []byte("merged"), 0o644))

	runner := &fakeRunner{}
	uploader := pipeline.NewUploader(config, runner)
	finalPath, err := uploader.Upload(context.Background(), localPath, "My Show", "clip.mp4")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(config.DownloadDir, "clip.mp4"), finalPath)
	assert.FileExists(t, finalPath)

	invocations := runner.recorded()
	require.Len(t, invocations, 1)
	assert.Equal(t, "rclone", invocations[0].name)
	assert.Equal(t, []string{"copy", finalPath, "remote:My Show", "--config", "/etc/rclone.conf"}, invocations[0].args)
}

func Test_Upload_RenameFailureUploadsOriginalPath(t *testing.T) {
	t.Parallel()

	config := testConfig(t)
	// The artifact does not exist, so the rename cannot succeed; the
	// upload must still be attempted with the original path.
	localPath := filepath.Join(config.DownloadDir, "output_1234.mp4")

	runner := &fakeRunner{}
	uploader := pipeline.NewUploader(config, runner)
	finalPath, err := uploader.Upload(context.Background(), localPath, "My Show", "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, localPath, finalPath)
}

func Test_Upload_ToolFailureWrapsUploadFailure(t *testing.T) {
	t.Parallel()

	config := testConfig(t)
	localPath := filepath.Join(config.DownloadDir, "output_1234.mp4")
	require.NoError(t, os.WriteFile(localPath, []byte("merged"), 0o644))

	runner := &fakeRunner{onRun: func(string, []string) (string, error) {
		return "couldn't connect to remote", errToolFailed
	}}

	uploader := pipeline.NewUploader(config, runner)
	finalPath, err := uploader.Upload(context.Background(), localPath, "My Show", "clip.mp4")
	assert.ErrorIs(t, err, pipeline.ErrUploadFailure)

	// The moved path is still reported so the caller can clean it up.
	assert.Equal(t, filepath.Join(config.DownloadDir, "clip.mp4"), finalPath)
}

func Test_Workspace_CleanupRemovesAllArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	workspace, err := pipeline.NewWorkspace(dir)
	require.NoError(t, err)

	extra := filepath.Join(dir, "clip.mp4")
	for _, path := range []string{workspace.VideoPath(), workspace.AudioPath(), workspace.OutputPath(), extra} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	workspace.Cleanup(extra)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func Test_Workspace_CleanupToleratesAbsentArtifacts(t *testing.T) {
	t.Parallel()

	workspace, err := pipeline.NewWorkspace(t.TempDir())
	require.NoError(t, err)

	// Nothing was ever downloaded; cleanup must not panic or error.
	workspace.Cleanup("")
}

func Test_Workspace_StampsKeepConcurrentItemsApart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := pipeline.NewWorkspace(dir)
	require.NoError(t, err)
	second, err := pipeline.NewWorkspace(dir)
	require.NoError(t, err)

	assert.NotEqual(t, first.VideoPath(), second.VideoPath())
	assert.NotEqual(t, first.OutputPath(), second.OutputPath())
}
