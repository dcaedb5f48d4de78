package scanner_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/database"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/queue"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/scanner"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/session"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/transfer"
)

// memoryStore is an in-memory stand-in for the SQL-backed store; the
// Queryable argument is ignored.
type memoryStore struct {
	mu      sync.Mutex
	folders map[uuid.UUID]*transfer.Folder
	files   map[uuid.UUID]*transfer.File
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		folders: make(map[uuid.UUID]*transfer.Folder),
		files:   make(map[uuid.UUID]*transfer.File),
	}
}

func (store *memoryStore) GetFolder(_ database.Queryable, id uuid.UUID) (*transfer.Folder, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	folder, ok := store.folders[id]
	if !ok {
		return nil, transfer.ErrFolderNotFound
	}

	clone := *folder
	return &clone, nil
}

func (store *memoryStore) UpdateFolder(_ database.Queryable, folder *transfer.Folder) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	clone := *folder
	store.folders[folder.ID] = &clone
	return nil
}

func (store *memoryStore) CreateFolder(_ database.Queryable, folder *transfer.Folder) error {
	return store.UpdateFolder(nil, folder)
}

func (store *memoryStore) CreateFiles(_ database.Queryable, files []*transfer.File) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, file := range files {
		clone := *file
		store.files[file.ID] = &clone
	}

	return nil
}

func (store *memoryStore) folderByID(id uuid.UUID) *transfer.Folder {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.folders[id]
}

func (store *memoryStore) allFiles() []*transfer.File {
	store.mu.Lock()
	defer store.mu.Unlock()
	files := make([]*transfer.File, 0, len(store.files))
	for _, file := range store.files {
		files = append(files, file)
	}

	return files
}

func (store *memoryStore) subfoldersOf(parentID uuid.UUID) []*transfer.Folder {
	store.mu.Lock()
	defer store.mu.Unlock()
	children := make([]*transfer.Folder, 0)
	for _, folder := range store.folders {
		if folder.ParentID != nil && *folder.ParentID == parentID {
			children = append(children, folder)
		}
	}

	return children
}

// recordingQueue records published jobs; consumption is not exercised
// here because the handler is invoked directly.
type recordingQueue struct {
	mu        sync.Mutex
	published []publishedJob
}

type publishedJob struct {
	queueName string
	payload   any
}

func (q *recordingQueue) Publish(_ context.Context, queueName string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, publishedJob{queueName: queueName, payload: payload})
	return nil
}

func (q *recordingQueue) Consume(context.Context, string, int, queue.Handler) error {
	return nil
}

func (q *recordingQueue) jobs(queueName string) []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	payloads := make([]any, 0)
	for _, job := range q.published {
		if job.queueName == queueName {
			payloads = append(payloads, job.payload)
		}
	}

	return payloads
}

// listingPage serves a fixed listing document.
type listingPage struct {
	mu            sync.Mutex
	html          string
	currentURL    string
	redirects     map[string]string
	existing      map[string]bool
	navigations   int
	scrollPresses int
}

func newListingPage(html string) *listingPage {
	return &listingPage{
		html:      html,
		redirects: make(map[string]string),
		existing:  make(map[string]bool),
	}
}

func (p *listingPage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if target, ok := p.redirects[url]; ok {
		url = target
	}
	p.currentURL = url
	p.navigations++
	return nil
}

func (p *listingPage) Reload(context.Context) error { return nil }

func (p *listingPage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentURL, nil
}

func (p *listingPage) Title(context.Context) (string, error) { return "", nil }

func (p *listingPage) HTML(context.Context) (string, error) { return p.html, nil }

func (p *listingPage) Text(context.Context, string) (string, error) { return "", nil }

func (p *listingPage) Attribute(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (p *listingPage) Exists(_ context.Context, selector string) (bool, error) {
	return p.existing[selector], nil
}

func (p *listingPage) Click(context.Context, string) error { return nil }

func (p *listingPage) ClickAt(context.Context, float64, float64) error { return nil }

func (p *listingPage) PressEnd(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollPresses++
	return nil
}

func (p *listingPage) UserAgent(context.Context) (string, error) { return "agent", nil }

func (p *listingPage) CookieHeader(context.Context) (string, error) { return "", nil }

func (p *listingPage) ObserveRequests(func(session.RequestInfo)) {}

func (p *listingPage) Close() error { return nil }

type pageProvider struct{ page session.Page }

func (provider pageProvider) NewPage(context.Context) (session.Page, error) {
	return provider.page, nil
}

func fastScannerConfig() scanner.Config {
	return scanner.Config{
		Parallelism:  1,
		ScrollPasses: 3,
		ScrollSettle: time.Millisecond,
		SettleDelay:  time.Millisecond,
	}
}

func scanJobBody(t *testing.T, folder *transfer.Folder) []byte {
	body, err := json.Marshal(queue.ScanFolderJob{FolderID: folder.ID, FolderURL: folder.URL})
	require.NoError(t, err)
	return body
}

func listingHTML(videos int, subfolders int) string {
	html := `<html><head><title>My Show - Google Drive</title></head><body>`
	for i := 0; i < videos; i++ {
		html += fmt.Sprintf(`<div data-id="vid%d"><span data-tooltip="episode %d.mp4 Video"></span></div>`, i, i)
	}
	for i := 0; i < subfolders; i++ {
		html += fmt.Sprintf(`<div data-id="fold%d"><span data-tooltip="Season %d"></span></div>`, i, i)
	}

	return html + `</body></html>`
}

func Test_HandleScanJob_PersistsVideosAndFansOutSubfolders(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	jobs := &recordingQueue{}
	page := newListingPage(listingHTML(3, 2))

	folder := transfer.NewFolder("https://drive.google.com/drive/folders/root", "")
	require.NoError(t, store.CreateFolder(nil, folder))

	service := scanner.New(fastScannerConfig(), nil, store, pageProvider{page}, jobs)
	require.NoError(t, service.HandleScanJob(context.Background(), scanJobBody(t, folder)))

	scanned := store.folderByID(folder.ID)
	require.NotNil(t, scanned)
	assert.Equal(t, transfer.StatusCompleted, scanned.Status)
	assert.Equal(t, "My Show", scanned.Name)

	files := store.allFiles()
	require.Len(t, files, 3)
	for _, file := range files {
		assert.Equal(t, folder.ID, file.FolderID)
		assert.Equal(t, transfer.StatusPending, file.Status)
		assert.NotContains(t, file.Name, ".mp4")
		assert.Contains(t, file.OriginalURL, "https://drive.google.com/file/d/")
	}

	children := store.subfoldersOf(folder.ID)
	require.Len(t, children, 2)
	for _, child := range children {
		assert.Equal(t, transfer.StatusPending, child.Status)
		assert.Contains(t, child.Path, child.Name)
	}

	scanJobs := jobs.jobs(queue.FolderScanQueue)
	require.Len(t, scanJobs, 2)
	for _, payload := range scanJobs {
		job, ok := payload.(queue.ScanFolderJob)
		require.True(t, ok)
		require.NotNil(t, job.ParentID)
		assert.Equal(t, folder.ID, *job.ParentID)
	}

	// File processing is requested explicitly, never during the scan.
	assert.Empty(t, jobs.jobs(queue.FileProcessQueue))

	// The full listing must have been scrolled into the DOM.
	assert.Equal(t, 3, page.scrollPresses)
}

func Test_HandleScanJob_EmptyFolderCompletesWithNoFiles(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	jobs := &recordingQueue{}
	page := newListingPage(listingHTML(0, 0))

	folder := transfer.NewFolder("https://drive.google.com/drive/folders/root", "")
	require.NoError(t, store.CreateFolder(nil, folder))

	service := scanner.New(fastScannerConfig(), nil, store, pageProvider{page}, jobs)
	require.NoError(t, service.HandleScanJob(context.Background(), scanJobBody(t, folder)))

	assert.Equal(t, transfer.StatusCompleted, store.folderByID(folder.ID).Status)
	assert.Empty(t, store.allFiles())
	assert.Empty(t, jobs.jobs(queue.FolderScanQueue))
}

func Test_HandleScanJob_EmptyVideoNameFailsTheScan(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	jobs := &recordingQueue{}
	page := newListingPage(`<html><body>
		<div data-id="vid0"><span data-tooltip="episode one.mp4"></span></div>
		<div data-id="vid1"><span data-tooltip=".mp4"></span></div>
	</body></html>`)

	folder := transfer.NewFolder("https://drive.google.com/drive/folders/root", "")
	require.NoError(t, store.CreateFolder(nil, folder))

	service := scanner.New(fastScannerConfig(), nil, store, pageProvider{page}, jobs)
	assert.Error(t, service.HandleScanJob(context.Background(), scanJobBody(t, folder)))

	// The scan fails wholesale: no partial file set is persisted.
	assert.Equal(t, transfer.StatusFailed, store.folderByID(folder.ID).Status)
	assert.Empty(t, store.allFiles())
	assert.Empty(t, jobs.jobs(queue.FolderScanQueue))
}

func Test_HandleScanJob_SessionBounceFailsTheScan(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	jobs := &recordingQueue{}
	page := newListingPage(listingHTML(1, 0))

	folder := transfer.NewFolder("https://drive.google.com/drive/folders/root", "")
	page.redirects[folder.URL] = "https://accounts.google.com/v3/signin/identifier"
	require.NoError(t, store.CreateFolder(nil, folder))

	service := scanner.New(fastScannerConfig(), nil, store, pageProvider{page}, jobs)
	assert.Error(t, service.HandleScanJob(context.Background(), scanJobBody(t, folder)))

	assert.Equal(t, transfer.StatusFailed, store.folderByID(folder.ID).Status)
	assert.Empty(t, store.allFiles())
}

func Test_HandleScanJob_UnknownFolderIsDropped(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	jobs := &recordingQueue{}
	page := newListingPage(listingHTML(1, 0))

	missing := transfer.NewFolder("https://drive.google.com/drive/folders/ghost", "")

	service := scanner.New(fastScannerConfig(), nil, store, pageProvider{page}, jobs)
	err := service.HandleScanJob(context.Background(), scanJobBody(t, missing))
	assert.ErrorIs(t, err, transfer.ErrFolderNotFound)
	assert.Zero(t, page.navigations)
}

func Test_HandleScanJob_AlreadyScannedFolderIsRejected(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	jobs := &recordingQueue{}
	page := newListingPage(listingHTML(1, 0))

	folder := transfer.NewFolder("https://drive.google.com/drive/folders/root", "")
	require.NoError(t, folder.MarkScanning())
	require.NoError(t, folder.MarkCompleted())
	require.NoError(t, store.CreateFolder(nil, folder))

	service := scanner.New(fastScannerConfig(), nil, store, pageProvider{page}, jobs)
	assert.Error(t, service.HandleScanJob(context.Background(), scanJobBody(t, folder)))
	assert.Zero(t, page.navigations)
	assert.Equal(t, transfer.StatusCompleted, store.folderByID(folder.ID).Status)
}

func Test_HandleScanJob_MalformedPayloadIsRejected(t *testing.T) {
	t.Parallel()

	service := scanner.New(fastScannerConfig(), nil, newMemoryStore(), pageProvider{newListingPage("")}, &recordingQueue{})
	assert.Error(t, service.HandleScanJob(context.Background(), []byte("{not json")))
}
