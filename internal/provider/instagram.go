package provider

import (
	"fmt"
	"regexp"

	"github.com/mediafetch/backend/internal/media"
)

// InstagramMatcher recognises Instagram post, reel and IGTV URLs
type InstagramMatcher struct {
	shortcodePattern *regexp.Regexp
}

// NewInstagramMatcher creates a new Instagram URL matcher
func NewInstagramMatcher() *InstagramMatcher {
	return &InstagramMatcher{
		shortcodePattern: regexp.MustCompile(`^[a-zA-Z0-9_-]{5,64}$`),
	}
}

// Provider returns the provider for this matcher
func (m *InstagramMatcher) Provider() media.ProviderID {
	return media.ProviderInstagram
}

// CanHandle returns true if the URL appears to be an Instagram URL
func (m *InstagramMatcher) CanHandle(rawURL string) bool {
	_, host, ok := parseURL(rawURL)
	if !ok {
		return false
	}
	return host == "instagram.com" || host == "instagr.am"
}

// Match extracts the shortcode. Both /p/CODE and /username/p/CODE shapes are accepted.
func (m *InstagramMatcher) Match(rawURL string) Detection {
	parsed, _, ok := parseURL(rawURL)
	if !ok {
		return rejected(media.ProviderInstagram, rawURL, "invalid URL format")
	}

	segs := pathSegments(parsed.Path)
	var kind, code string
	for i := 0; i < len(segs)-1 && i < 2; i++ {
		switch segs[i] {
		case "p", "reel", "reels", "tv":
			kind, code = segs[i], segs[i+1]
		}
		if kind != "" {
			break
		}
	}

	if kind == "" {
		return rejected(media.ProviderInstagram, rawURL, "not an Instagram post or reel URL")
	}
	if !m.shortcodePattern.MatchString(code) {
		d := rejected(media.ProviderInstagram, rawURL, "invalid shortcode format")
		d.MediaID = code
		return d
	}

	mediaType := "post"
	pathKind := "p"
	switch kind {
	case "reel", "reels":
		mediaType, pathKind = "reel", "reel"
	case "tv":
		mediaType, pathKind = "igtv", "tv"
	}

	return Detection{
		Supported: true,
		Provider:  media.ProviderInstagram,
		MediaID:   code,
		MediaType: mediaType,
		URL:       rawURL,
		Canonical: fmt.Sprintf("https://www.instagram.com/%s/%s/", pathKind, code),
	}
}
