package ytdlp

import (
	"math"
	"strings"
	"time"

	"github.com/mediafetch/backend/internal/media"
)

// Output represents the JSON output from yt-dlp -J
type Output struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	FullTitle   string   `json:"fulltitle"`
	Uploader    string   `json:"uploader"`
	Duration    float64  `json:"duration"`
	Thumbnail   string   `json:"thumbnail"`
	Thumbnails  []Thumb  `json:"thumbnails"`
	WebpageURL  string   `json:"webpage_url"`
	Extractor   string   `json:"extractor"`
	Description string   `json:"description"`
	Formats     []Format `json:"formats"`
	// Set for single-format results such as direct mp4 links
	URL    string `json:"url"`
	Ext    string `json:"ext"`
	VCodec string `json:"vcodec"`
	ACodec string `json:"acodec"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Thumb represents a thumbnail entry
type Thumb struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Format represents a media format option
type Format struct {
	FormatID       string  `json:"format_id"`
	FormatNote     string  `json:"format_note"`
	Ext            string  `json:"ext"`
	Resolution     string  `json:"resolution"`
	URL            string  `json:"url"`
	Protocol       string  `json:"protocol"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	AudioExt       string  `json:"audio_ext"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	Tbr            float64 `json:"tbr"`
	Abr            float64 `json:"abr"`
	Vbr            float64 `json:"vbr"`
}

// ToMediaInfo converts the output to MediaInfo with formats in preference order
func (o *Output) ToMediaInfo(provider media.ProviderID, rank media.CodecRank) *media.MediaInfo {
	info := &media.MediaInfo{
		Title:       media.NormalizeTitle(firstNonEmpty(o.Title, o.FullTitle), provider, o.ID),
		Thumbnail:   o.Thumbnail,
		Description: o.Description,
		Duration:    time.Duration(o.Duration * float64(time.Second)),
	}

	// Use best thumbnail if available
	if info.Thumbnail == "" && len(o.Thumbnails) > 0 {
		info.Thumbnail = o.Thumbnails[len(o.Thumbnails)-1].URL
	}

	formats := make([]media.Format, 0, len(o.Formats))
	for _, f := range o.Formats {
		// storyboards are image strips, not media
		if f.Ext == "mhtml" {
			continue
		}
		formats = append(formats, f.toFormat())
	}

	if len(formats) == 0 && o.URL != "" {
		formats = append(formats, Format{
			FormatID: "0",
			Ext:      o.Ext,
			URL:      o.URL,
			VCodec:   o.VCodec,
			ACodec:   o.ACodec,
			Width:    o.Width,
			Height:   o.Height,
		}.toFormat())
	}

	info.Formats = media.SortFormats(formats, rank)
	return info
}

func (f Format) toFormat() media.Format {
	vcodec := normalizeCodec(f.VCodec, f.Height > 0 || f.Width > 0)
	acodec := normalizeCodec(f.ACodec, (f.AudioExt != "" && f.AudioExt != media.CodecNone) || f.Abr > 0)
	hasVideo := vcodec != media.CodecNone

	out := media.Format{
		FormatID:   f.FormatID,
		Ext:        f.Ext,
		Resolution: f.Resolution,
		Quality:    f.FormatNote,
		VideoCodec: vcodec,
		AudioCodec: acodec,
		URL:        f.URL,
		Width:      f.Width,
		Height:     f.Height,
		Bitrate:    int(math.Round(f.Tbr)),
	}
	if out.Bitrate == 0 {
		out.Bitrate = int(math.Round(f.Abr + f.Vbr))
	}
	if out.Resolution == "" || out.Resolution == "audio only" {
		out.Resolution = media.Resolution(f.Width, f.Height, hasVideo)
	}

	switch {
	case f.Filesize > 0:
		size := f.Filesize
		out.FileSize = &size
	case f.FilesizeApprox > 0:
		size := f.FilesizeApprox
		out.FileSize = &size
	}
	return out
}

// normalizeCodec maps a missing codec to "unknown" when the stream appears
// to exist and to "none" otherwise
func normalizeCodec(codec string, present bool) string {
	codec = strings.TrimSpace(codec)
	if codec != "" {
		return codec
	}
	if present {
		return media.CodecUnknown
	}
	return media.CodecNone
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
