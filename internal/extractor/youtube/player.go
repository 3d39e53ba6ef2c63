package youtube

import (
	"strconv"
	"strings"
	"time"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/media"
)

// playerResponse is the subset of the player payload shared by the innertube
// endpoint and the ytInitialPlayerResponse blob embedded in watch pages
type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails struct {
		VideoID          string `json:"videoId"`
		Title            string `json:"title"`
		LengthSeconds    string `json:"lengthSeconds"`
		ShortDescription string `json:"shortDescription"`
		Thumbnail        struct {
			Thumbnails []struct {
				URL    string `json:"url"`
				Width  int    `json:"width"`
				Height int    `json:"height"`
			} `json:"thumbnails"`
		} `json:"thumbnail"`
	} `json:"videoDetails"`
	StreamingData struct {
		Formats         []streamFormat `json:"formats"`
		AdaptiveFormats []streamFormat `json:"adaptiveFormats"`
	} `json:"streamingData"`
}

type streamFormat struct {
	Itag            int    `json:"itag"`
	URL             string `json:"url"`
	SignatureCipher string `json:"signatureCipher"`
	MimeType        string `json:"mimeType"`
	Bitrate         int    `json:"bitrate"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	ContentLength   string `json:"contentLength"`
	QualityLabel    string `json:"qualityLabel"`
	Quality         string `json:"quality"`
}

// playabilityError maps a non-OK playability status onto the error taxonomy
func (p *playerResponse) playabilityError() *media.ExtractError {
	status := p.PlayabilityStatus.Status
	reason := strings.ToLower(p.PlayabilityStatus.Reason)

	switch {
	case status == "" || status == "OK":
		return nil
	case strings.Contains(reason, "not a bot") || strings.Contains(reason, "confirm you"):
		return media.NewError(media.CodeSecurityChallenge, "YouTube requested a sign-in challenge")
	case strings.Contains(reason, "private"):
		return media.NewError(media.CodePrivateContent, "video is private")
	case status == "LOGIN_REQUIRED" || status == "AGE_CHECK_REQUIRED":
		return media.NewError(media.CodeAuthExpired, "video requires a signed-in session")
	case status == "ERROR":
		return media.NewError(media.CodeNotFound, "video unavailable")
	default:
		return media.NewError(media.CodeNotFound, "video is not playable")
	}
}

// toMediaInfo converts streaming data. Formats that only carry a signature
// cipher are skipped; deciphering is left to yt-dlp and the library method.
func (p *playerResponse) toMediaInfo(videoID string) *media.MediaInfo {
	d := p.VideoDetails
	info := &media.MediaInfo{
		Title:       d.Title,
		Description: d.ShortDescription,
	}
	if secs, err := strconv.Atoi(d.LengthSeconds); err == nil {
		info.Duration = time.Duration(secs) * time.Second
	}
	if thumbs := d.Thumbnail.Thumbnails; len(thumbs) > 0 {
		info.Thumbnail = thumbs[len(thumbs)-1].URL
	}

	all := append(append([]streamFormat{}, p.StreamingData.Formats...), p.StreamingData.AdaptiveFormats...)
	for _, f := range all {
		if f.URL == "" {
			continue
		}
		info.Formats = append(info.Formats, f.toFormat())
	}

	return extractor.Finish(info, media.ProviderYouTube, videoID, media.NeutralCodecRank)
}

func (f streamFormat) toFormat() media.Format {
	ext, vcodec, acodec := extractor.ParseMimeType(f.MimeType)
	out := media.Format{
		FormatID:   strconv.Itoa(f.Itag),
		Ext:        ext,
		Quality:    f.QualityLabel,
		VideoCodec: vcodec,
		AudioCodec: acodec,
		URL:        f.URL,
		Width:      f.Width,
		Height:     f.Height,
		Bitrate:    f.Bitrate / 1000,
	}
	if out.Quality == "" {
		out.Quality = f.Quality
	}
	out.Resolution = media.Resolution(f.Width, f.Height, vcodec != media.CodecNone)
	if size, err := strconv.ParseInt(f.ContentLength, 10, 64); err == nil && size > 0 {
		out.FileSize = &size
	}
	return out
}
