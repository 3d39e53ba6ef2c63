package media

import (
	"strings"
	"time"
)

// ProviderID identifies a supported source platform
type ProviderID string

const (
	ProviderYouTube   ProviderID = "youtube"
	ProviderInstagram ProviderID = "instagram"
	ProviderTikTok    ProviderID = "tiktok"
	ProviderTwitter   ProviderID = "twitter"
)

// Label returns the display name of the provider
func (p ProviderID) Label() string {
	switch p {
	case ProviderYouTube:
		return "YouTube"
	case ProviderInstagram:
		return "Instagram"
	case ProviderTikTok:
		return "TikTok"
	case ProviderTwitter:
		return "Twitter/X"
	default:
		return string(p)
	}
}

// AllProviders lists providers in their display order
func AllProviders() []ProviderID {
	return []ProviderID{ProviderYouTube, ProviderInstagram, ProviderTikTok, ProviderTwitter}
}

// Codec sentinels
const (
	CodecNone    = "none"
	CodecUnknown = "unknown"
)

// Format is one downloadable representation of a media item
type Format struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution"`
	Quality    string `json:"quality,omitempty"`
	VideoCodec string `json:"vcodec"`
	AudioCodec string `json:"acodec"`
	FileSize   *int64 `json:"filesize,omitempty"`
	URL        string `json:"url,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Bitrate    int    `json:"bitrate,omitempty"`
}

// HasVideo reports whether the format carries a real, known video stream
func (f Format) HasVideo() bool {
	return isRealCodec(f.VideoCodec)
}

// HasAudio reports whether the format carries an audio stream
func (f Format) HasAudio() bool {
	return f.AudioCodec != "" && f.AudioCodec != CodecNone
}

// Useful is false when the format has neither video nor audio
func (f Format) Useful() bool {
	return f.VideoCodec != CodecNone || f.AudioCodec != CodecNone
}

func isRealCodec(codec string) bool {
	c := strings.ToLower(strings.TrimSpace(codec))
	return c != "" && c != CodecNone && c != CodecUnknown
}

// MediaInfo is the payload of a successful extraction
type MediaInfo struct {
	Title       string        `json:"title"`
	Formats     []Format      `json:"formats"`
	Thumbnail   string        `json:"thumbnail,omitempty"`
	Description string        `json:"description,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Result is the outcome of a single extractor invocation
type Result struct {
	Success bool          `json:"success"`
	Info    *MediaInfo    `json:"info,omitempty"`
	Err     *ExtractError `json:"error,omitempty"`
	Method  string        `json:"method"`
	Elapsed time.Duration `json:"elapsed"`
}

// Grade classifies the result's formats; failures grade as empty
func (r Result) Grade() Grade {
	if !r.Success || r.Info == nil {
		return GradeEmpty
	}
	return Classify(r.Info.Formats)
}

// HasRealVideo reports whether the result is a success containing real video
func (r Result) HasRealVideo() bool {
	return r.Grade() == GradeVideo
}

// Weak reports a success that only carries audio (or no usable streams).
// Callers may accept it as a last resort but should keep looking for video.
func (r Result) Weak() bool {
	return r.Success && r.Grade() != GradeVideo
}

// Code returns the error code of a failed result, or empty on success
func (r Result) Code() ErrorCode {
	if r.Err == nil {
		return ""
	}
	return r.Err.Code
}
