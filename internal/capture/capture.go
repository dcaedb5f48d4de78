// Package capture locates the raw, directly-fetchable media resource URLs
// for a single viewer page. The hosting page exposes no stable download
// affordance for these items; the only reliable signal is the provider's
// own internal network traffic while the item plays, so we observe
// outgoing requests and pick the media candidates out of them.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/session"
	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
)

var (
	log = logger.Get("Capture")

	// ErrSessionExpired requires a human to re-authenticate; workers must
	// not retry it automatically.
	ErrSessionExpired = errors.New("session expired; interactive re-authentication required")

	// ErrCaptureTimeout is transient; a manual retry is safe.
	ErrCaptureTimeout = errors.New("timed out waiting for both media streams")
)

// Markers of a raw media-playback request: the provider's stream endpoint
// plus a byte-length parameter that only appears on real track requests.
const (
	streamURLMarker = "videoplayback"
	byteLenMarker   = "clen="
	videoMimeMarker = "mime=video"
	audioMimeMarker = "mime=audio"
)

// volatileParams are range/buffer/session hints that vary per request and
// must be stripped before the URL is reused for an out-of-band fetch.
var volatileParams = []string{"range", "rbuf", "ump", "srfvp"}

// Best-effort playback triggers, in preference order.
var playSelectors = []string{
	`div[role="button"][aria-label="Play"]`,
	"video",
	"#drive-viewer-video-player-object-0",
}

type (
	// Headers carries everything needed to fetch a captured resource URL
	// directly, outside the browser.
	Headers struct {
		Cookie    string
		UserAgent string
		Referer   string
	}

	// Streams is the result of a successful capture: one URL per track.
	Streams struct {
		VideoURL string
		AudioURL string
		Headers  Headers
	}

	Config struct {
		// PollAttempts bounds how long we wait for both candidates; one
		// attempt per PollInterval (roughly one minute by default).
		PollAttempts int           `yaml:"poll_attempts" env:"CAPTURE_POLL_ATTEMPTS" env-default:"60"`
		PollInterval time.Duration `yaml:"poll_interval" env:"CAPTURE_POLL_INTERVAL" env-default:"1s"`

		// SettleDelay is applied after navigation before inspecting the page.
		SettleDelay time.Duration `yaml:"settle_delay" env:"CAPTURE_SETTLE_DELAY" env-default:"2s"`

		// RedirectAttempts bounds the reload/redirect-follow chain applied
		// to each captured URL.
		RedirectAttempts int `yaml:"redirect_attempts" env:"CAPTURE_REDIRECT_ATTEMPTS" env-default:"5"`
	}

	pageProvider interface {
		NewPage(ctx context.Context) (session.Page, error)
	}

	Locator struct {
		config    Config
		pages     pageProvider
		inspector pageInspector
	}
)

func NewLocator(config Config, pages pageProvider) *Locator {
	if config.PollAttempts == 0 {
		config.PollAttempts = 60
	}
	if config.PollInterval == 0 {
		config.PollInterval = time.Second
	}
	if config.RedirectAttempts == 0 {
		config.RedirectAttempts = 5
	}

	return &Locator{config: config, pages: pages, inspector: liveInspector{}}
}

// Locate opens a page on the shared session, provokes playback of the
// item behind viewerURL, and captures the video and audio resource URLs
// from the provider's own stream requests.
func (locator *Locator) Locate(ctx context.Context, viewerURL string) (*Streams, error) {
	page, err := locator.pages.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture page: %w", err)
	}
	defer page.Close()

	var (
		mu             sync.Mutex
		videoURL       string
		audioURL       string
		requestHeaders map[string]string
	)
	page.ObserveRequests(func(request session.RequestInfo) {
		if !isMediaRequest(request.URL) {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.Contains(request.URL, videoMimeMarker) && videoURL == "":
			log.Debugf("Detected video stream request\n")
			videoURL = stripVolatileParams(request.URL)
			requestHeaders = request.Headers
		case strings.Contains(request.URL, audioMimeMarker) && audioURL == "":
			log.Debugf("Detected audio stream request\n")
			audioURL = stripVolatileParams(request.URL)
		}
	})

	log.Infof("Navigating to viewer page %s\n", viewerURL)
	if err := page.Navigate(ctx, viewerURL); err != nil {
		return nil, fmt.Errorf("failed to navigate to viewer page: %w", err)
	}
	if err := wait(ctx, locator.config.SettleDelay); err != nil {
		return nil, err
	}

	// Session loss must short-circuit here; the rest of the pipeline is
	// expensive and cannot succeed without authentication.
	if !session.IsAuthenticated(ctx, page) {
		return nil, ErrSessionExpired
	}

	locator.nudgePlayback(ctx, page)

	log.Infof("Waiting for media streams (budget %d x %s)...\n", locator.config.PollAttempts, locator.config.PollInterval)
	for attempt := 1; attempt <= locator.config.PollAttempts; attempt++ {
		mu.Lock()
		haveBoth := videoURL != "" && audioURL != ""
		haveVideo := videoURL != ""
		mu.Unlock()
		if haveBoth {
			break
		}

		if err := wait(ctx, locator.config.PollInterval); err != nil {
			return nil, err
		}
		if attempt%5 == 0 && !haveVideo {
			_ = page.ClickAt(ctx, 640, 360)
		}
	}

	mu.Lock()
	streams := Streams{VideoURL: videoURL, AudioURL: audioURL}
	mu.Unlock()
	if streams.VideoURL == "" || streams.AudioURL == "" {
		return nil, ErrCaptureTimeout
	}

	// Some captured URLs are redirect markers rather than final media;
	// chase each chain down before handing them to the downloader.
	if streams.VideoURL, err = locator.followRedirects(ctx, page, streams.VideoURL); err != nil {
		return nil, err
	}
	if streams.AudioURL, err = locator.followRedirects(ctx, page, streams.AudioURL); err != nil {
		return nil, err
	}

	// The originally captured request headers are not authoritative for
	// an out-of-band fetch; rebuild them from the live cookie jar.
	headers, err := refineHeaders(ctx, page, viewerURL, requestHeaders)
	if err != nil {
		return nil, fmt.Errorf("failed to refine capture headers: %w", err)
	}
	streams.Headers = headers

	log.Emit(logger.SUCCESS, "Captured both media streams for %s\n", viewerURL)
	return &streams, nil
}

// nudgePlayback attempts a short list of best-effort UI interactions to
// provoke the two stream requests. Failures are ignored; the poll loop
// re-nudges periodically.
func (locator *Locator) nudgePlayback(ctx context.Context, page session.Page) {
	for _, selector := range playSelectors {
		if ok, err := page.Exists(ctx, selector); err != nil || !ok {
			continue
		}

		_ = page.Click(ctx, selector)
		_ = wait(ctx, 500*time.Millisecond)
	}
}

func refineHeaders(ctx context.Context, page session.Page, viewerURL string, captured map[string]string) (Headers, error) {
	cookie, err := page.CookieHeader(ctx)
	if err != nil {
		return Headers{}, err
	}

	userAgent, err := page.UserAgent(ctx)
	if err != nil {
		return Headers{}, err
	}

	headers := Headers{Cookie: cookie, UserAgent: userAgent, Referer: refererFor(viewerURL)}
	if headers.Cookie == "" {
		// Fall back to whatever the intercepted request carried.
		for key, value := range captured {
			if strings.EqualFold(key, "cookie") {
				headers.Cookie = value
			}
		}
	}

	return headers, nil
}

func refererFor(viewerURL string) string {
	parsed, err := url.Parse(viewerURL)
	if err != nil || parsed.Host == "" {
		return "https://" + session.ProviderHost + "/"
	}

	return parsed.Scheme + "://" + parsed.Host + "/"
}

func isMediaRequest(requestURL string) bool {
	return strings.Contains(requestURL, streamURLMarker) && strings.Contains(requestURL, byteLenMarker)
}

// stripVolatileParams removes the per-request hint parameters so the URL
// can be replayed for a full-file fetch. Unparseable URLs are returned
// unchanged.
func stripVolatileParams(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	values := parsed.Query()
	for _, param := range volatileParams {
		values.Del(param)
	}
	parsed.RawQuery = values.Encode()
	return parsed.String()
}

func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
