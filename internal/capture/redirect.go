package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/session"
)

// ErrRedirectExhausted is returned when a captured resource URL never
// resolves to playable media within the attempt budget.
var ErrRedirectExhausted = errors.New("redirect chain did not resolve to playable media")

type (
	// FollowState enumerates the redirect-following policy outcomes.
	FollowState int

	// Observation is what one inspection of a live page yields. Zero
	// values mean "not present".
	Observation struct {
		// PlayerSource is the resolved src of a player element, final
		// and valid when present.
		PlayerSource string

		// BodyText is the page's textual body; when it is itself a URL,
		// the page is a redirect marker pointing at the next hop.
		BodyText string
	}

	// Decision is the policy's verdict for a single observation.
	Decision struct {
		State  FollowState
		Target string
	}

	pageInspector interface {
		Inspect(ctx context.Context, page session.Page) (Observation, error)
	}
)

const (
	Following FollowState = iota
	FoundVideo
	FoundRedirect
	Retry
	Exhausted
)

func (s FollowState) String() string {
	switch s {
	case Following:
		return "FOLLOWING"
	case FoundVideo:
		return "FOUND_VIDEO"
	case FoundRedirect:
		return "FOUND_REDIRECT"
	case Retry:
		return "RETRY"
	case Exhausted:
		return "EXHAUSTED"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}

// NextFollowState is the pure redirect-following policy, kept separate
// from the page-observation mechanism so it can be tested against fixed
// observations. Preference order: a player element's resolved source is
// final; a textual redirect target is followed once more; anything else
// means reload and look again.
func NextFollowState(obs Observation) Decision {
	if src := strings.TrimSpace(obs.PlayerSource); src != "" && isHTTPURL(src) {
		return Decision{State: FoundVideo, Target: src}
	}

	if body := strings.TrimSpace(obs.BodyText); isHTTPURL(body) {
		return Decision{State: FoundRedirect, Target: body}
	}

	return Decision{State: Retry}
}

// followRedirects drives the policy against a live page, bounded by the
// configured attempt budget.
func (locator *Locator) followRedirects(ctx context.Context, page session.Page, rawURL string) (string, error) {
	if err := page.Navigate(ctx, rawURL); err != nil {
		return "", fmt.Errorf("failed to navigate to resource URL: %w", err)
	}

	for attempt := 1; attempt <= locator.config.RedirectAttempts; attempt++ {
		if err := wait(ctx, locator.config.SettleDelay); err != nil {
			return "", err
		}

		obs, err := locator.inspector.Inspect(ctx, page)
		if err != nil {
			return "", fmt.Errorf("failed to inspect resource page: %w", err)
		}

		decision := NextFollowState(obs)
		log.Debugf("Redirect follow attempt %d/%d: %s\n", attempt, locator.config.RedirectAttempts, decision.State)
		switch decision.State {
		case FoundVideo:
			return decision.Target, nil
		case FoundRedirect:
			if err := page.Navigate(ctx, decision.Target); err != nil {
				return "", fmt.Errorf("failed to follow redirect target: %w", err)
			}
		default:
			if err := page.Reload(ctx); err != nil {
				return "", fmt.Errorf("failed to reload resource page: %w", err)
			}
		}
	}

	return "", ErrRedirectExhausted
}

// liveInspector is the observation mechanism for a real page.
type liveInspector struct{}

func (liveInspector) Inspect(ctx context.Context, page session.Page) (Observation, error) {
	var obs Observation

	if src, ok, err := page.Attribute(ctx, "video", "src"); err == nil && ok {
		obs.PlayerSource = src
	}

	if body, err := page.Text(ctx, "body"); err == nil {
		obs.BodyText = body
	}

	return obs, nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
