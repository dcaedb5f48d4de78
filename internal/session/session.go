package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
)

var log = logger.Get("Session")

// Provider-specific markers used to decide whether the session is still
// authenticated: pages bounced to the identity provider (or showing its
// email form) mean the saved session has lapsed.
const (
	ProviderHost     = "drive.google.com"
	identityHost     = "accounts.google.com"
	emailInputQuery  = `input[type="email"]`
	listingNodeQuery = `[data-id]`
)

type (
	// Config focuses solely on the browser session items.
	Config struct {
		// ProfileDir is the persistent browser profile; it is an
		// operational artifact, not domain state.
		ProfileDir string `yaml:"profile_dir" env:"SESSION_PROFILE_DIR" env-default:".chrome-profile"`

		// LoginURL is opened during first-run interactive login.
		LoginURL string `yaml:"login_url" env:"SESSION_LOGIN_URL" env-default:"https://drive.google.com/drive/my-drive"`
	}

	// RequestInfo describes one outgoing network request observed on a page.
	RequestInfo struct {
		URL     string
		Headers map[string]string
	}

	// Page is the capability every scan/capture operation receives. Pages
	// share the one persisted session; they are opened per-operation and
	// MUST be closed on completion or failure.
	Page interface {
		Navigate(ctx context.Context, url string) error
		Reload(ctx context.Context) error
		URL(ctx context.Context) (string, error)
		Title(ctx context.Context) (string, error)
		HTML(ctx context.Context) (string, error)
		Text(ctx context.Context, selector string) (string, error)
		Attribute(ctx context.Context, selector string, attribute string) (string, bool, error)
		Exists(ctx context.Context, selector string) (bool, error)
		Click(ctx context.Context, selector string) error
		ClickAt(ctx context.Context, x float64, y float64) error
		PressEnd(ctx context.Context) error
		UserAgent(ctx context.Context) (string, error)
		CookieHeader(ctx context.Context) (string, error)
		ObserveRequests(fn func(RequestInfo))
		Close() error
	}

	// Browser is one launched browser instance bound to the persistent
	// profile.
	Browser interface {
		NewPage(ctx context.Context) (Page, error)
		Close() error
	}

	// Launcher abstracts the actual browser driver so tests can
	// substitute a fake session provider. ReleaseProfile evicts any
	// lingering driver process still holding the profile directory.
	Launcher interface {
		Launch(ctx context.Context, profileDir string, headless bool) (Browser, error)
		ReleaseProfile(profileDir string)
	}

	// Manager owns the one process-wide authenticated browser session.
	// All workers receive it via construction; there is no ambient global
	// session state.
	Manager struct {
		config   Config
		launcher Launcher
		browser  Browser
	}
)

func NewManager(config Config, launcher Launcher) *Manager {
	return &Manager{config: config, launcher: launcher}
}

// EnsureReady guarantees a working page can be obtained. On first run (no
// valid saved profile) the browser is launched visibly and this method
// blocks until a human completes the interactive login; the session is
// then persisted to the profile dir and reused headlessly on subsequent
// starts. A launch failure is fatal for the process - no further
// functionality is possible without a session.
func (manager *Manager) EnsureReady(ctx context.Context) error {
	if err := os.MkdirAll(manager.config.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("failed to create profile dir: %w", err)
	}

	manager.cleanStaleProfileLock()

	hasProfile := manager.hasValidProfile()
	if hasProfile {
		log.Infof("Launching browser (headless, saved profile)...\n")
	} else {
		log.Emit(logger.WARNING, "No saved session found; launching browser UI for first-time login\n")
	}

	browser, err := manager.launcher.Launch(ctx, manager.config.ProfileDir, hasProfile)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	manager.browser = browser

	if !hasProfile {
		if err := manager.waitForLogin(ctx); err != nil {
			return err
		}
	}

	return nil
}

// NewPage returns a fresh page sharing the persisted session cookies.
func (manager *Manager) NewPage(ctx context.Context) (Page, error) {
	if manager.browser == nil {
		return nil, errors.New("session manager is not ready; call EnsureReady first")
	}

	return manager.browser.NewPage(ctx)
}

// IsAuthenticated heuristically checks whether the page still carries a
// valid session: not bounced to the identity provider and no login form
// present. Callers use this before starting expensive work.
func (manager *Manager) IsAuthenticated(ctx context.Context, page Page) bool {
	return IsAuthenticated(ctx, page)
}

// IsAuthenticated is the page-level check; exposed at package level so
// that capture code holding only a Page can fail fast on session loss.
func IsAuthenticated(ctx context.Context, page Page) bool {
	url, err := page.URL(ctx)
	if err != nil {
		return false
	}
	if strings.Contains(url, identityHost) {
		return false
	}

	hasEmailInput, err := page.Exists(ctx, emailInputQuery)
	if err != nil {
		return false
	}

	return !hasEmailInput
}

func (manager *Manager) Shutdown() {
	if manager.browser == nil {
		return
	}

	log.Emit(logger.STOP, "Closing browser session\n")
	if err := manager.browser.Close(); err != nil {
		log.Warnf("Browser close reported an error: %v\n", err)
	}
	manager.browser = nil
}

// hasValidProfile checks for the files the browser writes on a completed
// login: the Default/ dir, Local State, and a cookie store.
func (manager *Manager) hasValidProfile() bool {
	paths := []string{
		filepath.Join(manager.config.ProfileDir, "Default"),
		filepath.Join(manager.config.ProfileDir, "Local State"),
		filepath.Join(manager.config.ProfileDir, "Default", "Cookies"),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}

	return true
}

// cleanStaleProfileLock removes the browser's single-instance lock file
// and asks the launcher to evict any lingering process still holding the
// profile. Skipping this risks profile corruption when the previous run
// died uncleanly.
func (manager *Manager) cleanStaleProfileLock() {
	lockFile := filepath.Join(manager.config.ProfileDir, "SingletonLock")
	if err := os.Remove(lockFile); err == nil {
		log.Debugf("Removed stale profile SingletonLock\n")
	}

	manager.launcher.ReleaseProfile(manager.config.ProfileDir)
}

// waitForLogin polls the login page until it lands on the provider with a
// listing visible, which is our signal that the human has finished
// authenticating and the profile has a session worth persisting.
func (manager *Manager) waitForLogin(ctx context.Context) error {
	page, err := manager.browser.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, manager.config.LoginURL); err != nil {
		return fmt.Errorf("failed to navigate to login page: %w", err)
	}

	log.Emit(logger.WARNING, "ACTION REQUIRED: please complete the login in the opened browser window\n")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			url, err := page.URL(ctx)
			if err != nil {
				// Navigation in-flight; try again on the next tick.
				continue
			}

			if !strings.Contains(url, ProviderHost) || strings.Contains(url, identityHost) {
				continue
			}

			if ok, err := page.Exists(ctx, listingNodeQuery); err == nil && ok {
				log.Emit(logger.SUCCESS, "Login detected! Session profile saved.\n")
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
