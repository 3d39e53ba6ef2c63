package provider

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/mediafetch/backend/internal/media"
)

// YouTubeMatcher recognises YouTube video URLs
type YouTubeMatcher struct {
	// videoIDPattern matches YouTube video IDs (11 characters, alphanumeric with - and _)
	videoIDPattern *regexp.Regexp
}

// NewYouTubeMatcher creates a new YouTube URL matcher
func NewYouTubeMatcher() *YouTubeMatcher {
	return &YouTubeMatcher{
		videoIDPattern: regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`),
	}
}

// Provider returns the provider for this matcher
func (m *YouTubeMatcher) Provider() media.ProviderID {
	return media.ProviderYouTube
}

// CanHandle returns true if the URL appears to be a YouTube URL
func (m *YouTubeMatcher) CanHandle(rawURL string) bool {
	_, host, ok := parseURL(rawURL)
	if !ok {
		return false
	}
	return host == "youtube.com" ||
		host == "youtu.be" ||
		host == "music.youtube.com" ||
		host == "youtube-nocookie.com"
}

// Match extracts the video id and builds the canonical watch URL
func (m *YouTubeMatcher) Match(rawURL string) Detection {
	parsed, host, ok := parseURL(rawURL)
	if !ok {
		return rejected(media.ProviderYouTube, rawURL, "invalid URL format")
	}

	var videoID, mediaType string
	switch host {
	case "youtu.be":
		// Short URL format: youtu.be/VIDEO_ID
		if segs := pathSegments(parsed.Path); len(segs) > 0 {
			videoID = segs[0]
		}
		mediaType = "video"
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		videoID, mediaType = m.fromYouTubeCom(parsed)
	default:
		return rejected(media.ProviderYouTube, rawURL, "not a YouTube URL")
	}

	if videoID == "" {
		return rejected(media.ProviderYouTube, rawURL, "could not extract video ID from URL")
	}
	if !m.videoIDPattern.MatchString(videoID) {
		d := rejected(media.ProviderYouTube, rawURL, "invalid video ID format")
		d.MediaID = videoID
		return d
	}

	return Detection{
		Supported: true,
		Provider:  media.ProviderYouTube,
		MediaID:   videoID,
		MediaType: mediaType,
		URL:       rawURL,
		Canonical: fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID),
	}
}

func (m *YouTubeMatcher) fromYouTubeCom(parsed *url.URL) (videoID, mediaType string) {
	segs := pathSegments(parsed.Path)
	if len(segs) == 0 {
		return "", ""
	}

	switch segs[0] {
	case "watch":
		return parsed.Query().Get("v"), "video"
	case "shorts":
		mediaType = "short"
	case "embed", "v":
		mediaType = "video"
	case "live":
		mediaType = "live"
	default:
		return "", ""
	}
	if len(segs) < 2 {
		return "", mediaType
	}
	return segs[1], mediaType
}
