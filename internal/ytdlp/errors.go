package ytdlp

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/mediafetch/backend/internal/media"
)

// ErrNotInstalled indicates yt-dlp is not installed
var ErrNotInstalled = errors.New("yt-dlp not found in PATH")

// stderrRule maps a yt-dlp error message fragment to an error code
type stderrRule struct {
	fragments []string
	code      media.ErrorCode
	message   string
}

// Rules are checked in order; the first match wins
var stderrRules = []stderrRule{
	{[]string{"private video", "is private", "this account is private"}, media.CodePrivateContent, "media is private"},
	{[]string{"sign in to confirm you", "confirm your age", "age-restricted"}, media.CodeSecurityChallenge, "provider requires a verified session"},
	{[]string{"login required", "requires authentication", "cookies are no longer valid", "empty media response"}, media.CodeAuthExpired, "provider requires a valid session"},
	{[]string{"http error 429", "too many requests", "rate-limit", "rate limit"}, media.CodeQuotaExceeded, "provider rate limit reached"},
	{[]string{"video unavailable", "this video is unavailable", "http error 404", "does not exist", "has been removed", "no status found", "not found"}, media.CodeNotFound, "media not found"},
	{[]string{"unsupported url", "no suitable extractor"}, media.CodeUnsupportedProvider, "url not supported by yt-dlp"},
	{[]string{"no video formats found", "requested format is not available", "no video could be found"}, media.CodeNoFormats, "no formats found"},
	{[]string{"timed out", "read timeout"}, media.CodeTimeout, "provider request timed out"},
	{[]string{"unable to download", "connection", "network is unreachable", "name resolution"}, media.CodeNetworkError, "network error"},
}

// categorizeError converts a failed run into an extraction error
func categorizeError(ctx context.Context, err error, stderr string) *media.ExtractError {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		return media.NewError(media.CodeTimeout, "yt-dlp timed out")
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, ErrNotInstalled):
		return media.NewError(media.CodeDependencyMissing, "yt-dlp is not installed")
	}

	lower := strings.ToLower(stderr)
	for _, rule := range stderrRules {
		for _, f := range rule.fragments {
			if strings.Contains(lower, f) {
				return media.NewError(rule.code, "%s", rule.message)
			}
		}
	}

	return media.NewError(media.CodeParseError, "yt-dlp failed")
}
