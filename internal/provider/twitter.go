package provider

import (
	"fmt"
	"regexp"

	"github.com/mediafetch/backend/internal/media"
)

// TwitterMatcher recognises tweet URLs on twitter.com and x.com
type TwitterMatcher struct {
	statusIDPattern *regexp.Regexp
	userPattern     *regexp.Regexp
}

// NewTwitterMatcher creates a new Twitter/X URL matcher
func NewTwitterMatcher() *TwitterMatcher {
	return &TwitterMatcher{
		statusIDPattern: regexp.MustCompile(`^[0-9]{1,25}$`),
		userPattern:     regexp.MustCompile(`^[a-zA-Z0-9_]{1,15}$`),
	}
}

// Provider returns the provider for this matcher
func (m *TwitterMatcher) Provider() media.ProviderID {
	return media.ProviderTwitter
}

// CanHandle returns true if the URL appears to be a Twitter/X URL
func (m *TwitterMatcher) CanHandle(rawURL string) bool {
	_, host, ok := parseURL(rawURL)
	if !ok {
		return false
	}
	return host == "twitter.com" || host == "x.com"
}

// Match extracts the status id from /user/status/ID and /i/status/ID
func (m *TwitterMatcher) Match(rawURL string) Detection {
	parsed, _, ok := parseURL(rawURL)
	if !ok {
		return rejected(media.ProviderTwitter, rawURL, "invalid URL format")
	}

	segs := pathSegments(parsed.Path)
	if len(segs) < 3 || (segs[1] != "status" && segs[1] != "statuses") {
		return rejected(media.ProviderTwitter, rawURL, "not a tweet URL")
	}

	user, statusID := segs[0], segs[2]
	if user != "i" && !m.userPattern.MatchString(user) {
		return rejected(media.ProviderTwitter, rawURL, "invalid username")
	}
	if !m.statusIDPattern.MatchString(statusID) {
		d := rejected(media.ProviderTwitter, rawURL, "invalid status ID format")
		d.MediaID = statusID
		return d
	}

	return Detection{
		Supported: true,
		Provider:  media.ProviderTwitter,
		MediaID:   statusID,
		MediaType: "tweet",
		URL:       rawURL,
		Canonical: fmt.Sprintf("https://x.com/%s/status/%s", user, statusID),
	}
}
