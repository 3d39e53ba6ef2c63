package provider

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mediafetch/backend/internal/media"
)

// TikTokMatcher recognises TikTok video URLs and TikTok's own share links
type TikTokMatcher struct {
	videoIDPattern   *regexp.Regexp
	shareCodePattern *regexp.Regexp
}

// NewTikTokMatcher creates a new TikTok URL matcher
func NewTikTokMatcher() *TikTokMatcher {
	return &TikTokMatcher{
		videoIDPattern:   regexp.MustCompile(`^[0-9]{8,25}$`),
		shareCodePattern: regexp.MustCompile(`^[a-zA-Z0-9]{5,16}$`),
	}
}

// Provider returns the provider for this matcher
func (m *TikTokMatcher) Provider() media.ProviderID {
	return media.ProviderTikTok
}

// CanHandle returns true if the URL appears to be a TikTok URL
func (m *TikTokMatcher) CanHandle(rawURL string) bool {
	_, host, ok := parseURL(rawURL)
	if !ok {
		return false
	}
	return host == "tiktok.com" || host == "vm.tiktok.com" || host == "vt.tiktok.com"
}

// Match extracts the numeric video id, or the share code for vm./vt. links
func (m *TikTokMatcher) Match(rawURL string) Detection {
	parsed, host, ok := parseURL(rawURL)
	if !ok {
		return rejected(media.ProviderTikTok, rawURL, "invalid URL format")
	}
	segs := pathSegments(parsed.Path)

	if host == "vm.tiktok.com" || host == "vt.tiktok.com" {
		if len(segs) == 0 || !m.shareCodePattern.MatchString(segs[0]) {
			return rejected(media.ProviderTikTok, rawURL, "invalid share link")
		}
		return Detection{
			Supported: true,
			Provider:  media.ProviderTikTok,
			MediaID:   segs[0],
			MediaType: "share",
			URL:       rawURL,
			Canonical: fmt.Sprintf("https://%s/%s/", host, segs[0]),
		}
	}

	var user, videoID string
	switch {
	// /@user/video/ID
	case len(segs) >= 3 && strings.HasPrefix(segs[0], "@") && segs[1] == "video":
		user, videoID = segs[0], segs[2]
	// /v/ID.html
	case len(segs) >= 2 && segs[0] == "v":
		videoID = strings.TrimSuffix(segs[1], ".html")
	// /embed/v2/ID
	case len(segs) >= 3 && segs[0] == "embed" && segs[1] == "v2":
		videoID = segs[2]
	}

	if videoID == "" {
		return rejected(media.ProviderTikTok, rawURL, "not a TikTok video URL")
	}
	if !m.videoIDPattern.MatchString(videoID) {
		d := rejected(media.ProviderTikTok, rawURL, "invalid video ID format")
		d.MediaID = videoID
		return d
	}
	if user == "" {
		user = "@"
	}

	return Detection{
		Supported: true,
		Provider:  media.ProviderTikTok,
		MediaID:   videoID,
		MediaType: "video",
		URL:       rawURL,
		Canonical: fmt.Sprintf("https://www.tiktok.com/%s/video/%s", user, videoID),
	}
}
