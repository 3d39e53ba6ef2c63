package extractor

import (
	"mime"
	"regexp"
	"strconv"
	"strings"

	"github.com/mediafetch/backend/internal/media"
)

// FindJSONObject returns the first balanced JSON object that starts after
// marker in text. Braces inside string literals are ignored.
func FindJSONObject(text, marker string) ([]byte, bool) {
	idx := strings.Index(text, marker)
	if idx < 0 {
		return nil, false
	}
	rest := text[idx+len(marker):]
	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return nil, false
	}
	rest = rest[start:]

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(rest[:i+1]), true
			}
		}
	}
	return nil, false
}

// WalkStrings calls fn for every string found in a decoded JSON value
func WalkStrings(v any, fn func(key, value string)) {
	walk("", v, fn)
}

func walk(key string, v any, fn func(key, value string)) {
	switch t := v.(type) {
	case string:
		fn(key, t)
	case []any:
		for _, item := range t {
			walk(key, item, fn)
		}
	case map[string]any:
		for k, item := range t {
			walk(k, item, fn)
		}
	}
}

// ParseMimeType splits a type such as `video/mp4; codecs="avc1.4d401e, mp4a.40.2"`
// into an extension and codecs. A video type whose codecs are not listed gets
// an unknown video codec.
func ParseMimeType(mimeType string) (ext, videoCodec, audioCodec string) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", media.CodecUnknown, media.CodecUnknown
	}

	kind, sub, _ := strings.Cut(mediaType, "/")
	ext = sub
	switch sub {
	case "3gpp":
		ext = "3gp"
	case "mpeg":
		ext = "mp3"
	}

	videoCodec, audioCodec = media.CodecNone, media.CodecNone
	codecs := strings.Split(params["codecs"], ",")
	for _, c := range codecs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if isAudioCodec(c) {
			audioCodec = c
		} else if kind == "video" {
			videoCodec = c
		}
	}

	switch kind {
	case "video":
		if videoCodec == media.CodecNone {
			videoCodec = media.CodecUnknown
		}
	case "audio":
		if audioCodec == media.CodecNone {
			audioCodec = media.CodecUnknown
		}
		if ext == "mp4" {
			ext = "m4a"
		}
	}
	return ext, videoCodec, audioCodec
}

func isAudioCodec(c string) bool {
	c = strings.ToLower(c)
	for _, prefix := range []string{"mp4a", "opus", "vorbis", "ac-3", "ec-3", "flac", "mp3"} {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// ProgressiveMP4 builds a muxed H.264/AAC mp4 format, the shape every
// provider CDN serves for direct video links
func ProgressiveMP4(id, rawURL string, width, height, bitrate int) media.Format {
	return media.Format{
		FormatID:   id,
		Ext:        "mp4",
		Resolution: media.Resolution(width, height, true),
		VideoCodec: "avc1",
		AudioCodec: "mp4a",
		URL:        rawURL,
		Width:      width,
		Height:     height,
		Bitrate:    bitrate,
	}
}

// AudioOnly builds an audio-only format
func AudioOnly(id, rawURL, ext, codec string, bitrate int) media.Format {
	return media.Format{
		FormatID:   id,
		Ext:        ext,
		Resolution: media.Resolution(0, 0, false),
		VideoCodec: media.CodecNone,
		AudioCodec: codec,
		URL:        rawURL,
		Bitrate:    bitrate,
	}
}

var dimensionPattern = regexp.MustCompile(`/(\d{2,5})x(\d{2,5})/`)

// DimensionsFromURL reads a WIDTHxHEIGHT path segment, as used by several CDNs
func DimensionsFromURL(rawURL string) (int, int) {
	m := dimensionPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return 0, 0
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	return w, h
}

// Finish normalises the title and orders the formats by preference
func Finish(info *media.MediaInfo, p media.ProviderID, mediaID string, rank media.CodecRank) *media.MediaInfo {
	info.Title = media.NormalizeTitle(info.Title, p, mediaID)
	info.Formats = media.SortFormats(info.Formats, rank)
	return info
}

// Atoi parses a decimal string, returning 0 when it is not a number
func Atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
