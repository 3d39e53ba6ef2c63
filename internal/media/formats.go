package media

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Grade is the quality class of a format list
type Grade int

const (
	GradeEmpty Grade = iota
	GradeAudioOnly
	GradeVideo
)

func (g Grade) String() string {
	switch g {
	case GradeVideo:
		return "video"
	case GradeAudioOnly:
		return "audio_only"
	default:
		return "empty"
	}
}

// HasRealVideo reports whether any format carries a real (known) video codec.
// Every call site that needs to tell video from audio-only goes through here.
func HasRealVideo(formats []Format) bool {
	for _, f := range formats {
		if f.HasVideo() {
			return true
		}
	}
	return false
}

// Classify grades a format list
func Classify(formats []Format) Grade {
	if HasRealVideo(formats) {
		return GradeVideo
	}
	for _, f := range formats {
		if f.HasAudio() {
			return GradeAudioOnly
		}
	}
	return GradeEmpty
}

// Bucket is the ordering class of a single format
type Bucket int

const (
	BucketVideoAudio Bucket = iota
	BucketVideoOnly
	BucketAudioOnly
	BucketUnknown
)

// BucketOf returns the ordering bucket of a format
func BucketOf(f Format) Bucket {
	switch {
	case f.HasVideo() && f.HasAudio():
		return BucketVideoAudio
	case f.HasVideo():
		return BucketVideoOnly
	case f.HasAudio():
		return BucketAudioOnly
	default:
		return BucketUnknown
	}
}

// CodecRank scores a video codec; lower sorts first
type CodecRank func(videoCodec string) int

// NeutralCodecRank treats every codec equally
func NeutralCodecRank(string) int { return 0 }

// PreferH264 ranks H.264 ahead of everything and VP9/AV1 last. Used for
// providers whose VP9/AV1 renditions play back as black frames.
func PreferH264(videoCodec string) int {
	c := strings.ToLower(videoCodec)
	switch {
	case strings.HasPrefix(c, "avc"), strings.HasPrefix(c, "h264"):
		return 0
	case strings.HasPrefix(c, "hev"), strings.HasPrefix(c, "hvc"), strings.HasPrefix(c, "h265"):
		return 1
	case strings.HasPrefix(c, "vp9"), strings.HasPrefix(c, "vp09"), strings.HasPrefix(c, "av01"), strings.HasPrefix(c, "av1"):
		return 3
	default:
		return 2
	}
}

// SortFormats drops useless formats and orders the rest: video+audio,
// then video-only, then audio-only. Within a bucket formats are ordered by
// codec rank, then height, then bitrate; ties keep their input order.
func SortFormats(formats []Format, rank CodecRank) []Format {
	if rank == nil {
		rank = NeutralCodecRank
	}

	out := make([]Format, 0, len(formats))
	for _, f := range formats {
		if f.Useful() {
			out = append(out, f)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ba, bb := BucketOf(a), BucketOf(b); ba != bb {
			return ba < bb
		}
		if BucketOf(a) != BucketAudioOnly {
			if ra, rb := rank(a.VideoCodec), rank(b.VideoCodec); ra != rb {
				return ra < rb
			}
			if a.Height != b.Height {
				return a.Height > b.Height
			}
		}
		return a.Bitrate > b.Bitrate
	})

	return out
}

// Resolution renders a human resolution string for a format
func Resolution(width, height int, hasVideo bool) string {
	switch {
	case !hasVideo:
		return "Audio"
	case width > 0 && height > 0:
		return fmt.Sprintf("%dx%d", width, height)
	case height > 0:
		return fmt.Sprintf("%dp", height)
	default:
		return "Unknown"
	}
}

// PlaceholderTitle is used when a strategy cannot find a title
func PlaceholderTitle(provider ProviderID, mediaID string) string {
	if mediaID == "" {
		return fmt.Sprintf("%s media", provider.Label())
	}
	return fmt.Sprintf("%s media %s", provider.Label(), mediaID)
}

var stripControl = runes.Remove(runes.Predicate(func(r rune) bool {
	return unicode.IsControl(r) && r != '\n'
}))

// NormalizeTitle NFC-normalises a title, removes control characters and
// collapses whitespace. Falls back to the placeholder when nothing is left.
func NormalizeTitle(title string, provider ProviderID, mediaID string) string {
	t := transform.Chain(norm.NFC, stripControl)
	cleaned, _, err := transform.String(t, title)
	if err != nil {
		cleaned = title
	}
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if len([]rune(cleaned)) > 200 {
		cleaned = string([]rune(cleaned)[:200])
	}
	if cleaned == "" {
		return PlaceholderTitle(provider, mediaID)
	}
	return cleaned
}
