package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loginPage is a minimal Page scripted for authentication checks.
type loginPage struct {
	url        string
	emailInput bool
	listing    bool
}

func (p *loginPage) Navigate(_ context.Context, url string) error { p.url = url; return nil }
func (p *loginPage) Reload(context.Context) error { return nil }
func (p *loginPage) URL(context.Context) (string, error) { return p.url, nil }
func (p *loginPage) Title(context.Context) (string, error) { return "", nil }
func (p *loginPage) HTML(context.Context) (string, error) { return "", nil }
func (p *loginPage) Text(context.Context, string) (string, error) { return "", nil }
func (p *loginPage) Attribute(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (p *loginPage) Exists(_ context.Context, selector string) (bool, error) {
	switch selector {
	case emailInputQuery:
		return p.emailInput, nil
	case listingNodeQuery:
		return p.listing, nil
	default:
		return false, nil
	}
}
func (p *loginPage) Click(context.Context, string) error { return nil }
func (p *loginPage) ClickAt(context.Context, float64, float64) error { return nil }
func (p *loginPage) PressEnd(context.Context) error { return nil }
func (p *loginPage) UserAgent(context.Context) (string, error) { return "", nil }
func (p *loginPage) CookieHeader(context.Context) (string, error) { return "", nil }
func (p *loginPage) ObserveRequests(func(RequestInfo)) {}
func (p *loginPage) Close() error { return nil }

type fakeBrowser struct {
	page   *loginPage
	closed bool
}

func (b *fakeBrowser) NewPage(context.Context) (Page, error) { return b.page, nil }
func (b *fakeBrowser) Close() error { b.closed = true; return nil }

type fakeLauncher struct {
	browser  *fakeBrowser
	headless bool
	launched bool
	released []string
}

func (l *fakeLauncher) Launch(_ context.Context, _ string, headless bool) (Browser, error) {
	l.launched = true
	l.headless = headless
	return l.browser, nil
}

func (l *fakeLauncher) ReleaseProfile(profileDir string) {
	l.released = append(l.released, profileDir)
}

func writeProfile(t *testing.T, dir string) {
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Default"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Local State"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Default", "Cookies"), []byte("db"), 0o644))
}

func Test_IsAuthenticated_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		page          *loginPage
		authenticated bool
	}{
		{"on provider with session", &loginPage{url: "https://drive.google.com/drive/folders/abc"}, true},
		{"bounced to identity provider", &loginPage{url: "https://accounts.google.com/v3/signin"}, false},
		{"login form on provider page", &loginPage{url: "https://drive.google.com/", emailInput: true}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.authenticated, IsAuthenticated(context.Background(), tt.page))
		})
	}
}

func Test_HasValidProfile_RequiresAllProfileArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manager := NewManager(Config{ProfileDir: dir}, nil)
	assert.False(t, manager.hasValidProfile())

	writeProfile(t, dir)
	assert.True(t, manager.hasValidProfile())

	require.NoError(t, os.Remove(filepath.Join(dir, "Default", "Cookies")))
	assert.False(t, manager.hasValidProfile())
}

func Test_EnsureReady_SavedProfileLaunchesHeadless(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeProfile(t, dir)

	launcher := &fakeLauncher{browser: &fakeBrowser{page: &loginPage{}}}
	manager := NewManager(Config{ProfileDir: dir, LoginURL: "https://drive.google.com/drive/my-drive"}, launcher)

	require.NoError(t, manager.EnsureReady(context.Background()))
	assert.True(t, launcher.launched)
	assert.True(t, launcher.headless, "a saved profile must not open a visible browser")
	assert.Equal(t, []string{dir}, launcher.released, "profile hygiene must go through the launcher")

	// Pages are handed out from the one shared browser.
	page, err := manager.NewPage(context.Background())
	require.NoError(t, err)
	require.NotNil(t, page)

	manager.Shutdown()
	assert.True(t, launcher.browser.closed)
}

func Test_EnsureReady_FirstRunWaitsForInteractiveLogin(t *testing.T) {
	t.Parallel()

	// An empty profile dir forces the interactive path; the scripted
	// page lands on the provider with a listing straight away.
	page := &loginPage{listing: true}
	launcher := &fakeLauncher{browser: &fakeBrowser{page: page}}
	manager := NewManager(Config{ProfileDir: t.TempDir(), LoginURL: "https://drive.google.com/drive/my-drive"}, launcher)

	require.NoError(t, manager.EnsureReady(context.Background()))
	assert.False(t, launcher.headless, "first-run login requires a visible browser")
	assert.Equal(t, "https://drive.google.com/drive/my-drive", page.url)
}

func Test_NewPage_BeforeEnsureReadyFails(t *testing.T) {
	t.Parallel()

	manager := NewManager(Config{ProfileDir: t.TempDir()}, &fakeLauncher{})
	_, err := manager.NewPage(context.Background())
	assert.Error(t, err)
}
