package youtube

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	ytlib "github.com/kkdai/youtube/v2"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

// videoClient is the part of the kkdai client the library method uses
type videoClient interface {
	GetVideoContext(ctx context.Context, url string) (*ytlib.Video, error)
	GetStreamURLContext(ctx context.Context, video *ytlib.Video, format *ytlib.Format) (string, error)
}

// Library resolves videos with github.com/kkdai/youtube, which deciphers
// signed stream URLs natively
type Library struct {
	extractor.Base
	client videoClient
}

// NewLibrary creates the library method
func NewLibrary(matcher provider.Matcher, cfg Config) *Library {
	cfg.defaults()
	return &Library{
		Base:   extractor.NewBase(MethodLibrary, matcher),
		client: &ytlib.Client{HTTPClient: cfg.HTTP.HTTPClient()},
	}
}

// IsAvailable is always true
func (e *Library) IsAvailable(context.Context) bool { return true }

// Extract fetches the video and resolves a URL for each format
func (e *Library) Extract(ctx context.Context, rawURL string, _ extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}

		video, err := e.client.GetVideoContext(ctx, det.Canonical)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, libraryError(err)
		}

		info := &media.MediaInfo{
			Title:       video.Title,
			Description: video.Description,
			Duration:    video.Duration,
		}
		if len(video.Thumbnails) > 0 {
			info.Thumbnail = video.Thumbnails[len(video.Thumbnails)-1].URL
		}

		for i := range video.Formats {
			f := &video.Formats[i]
			streamURL := f.URL
			if streamURL == "" {
				streamURL, err = e.client.GetStreamURLContext(ctx, video, f)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					continue
				}
			}
			info.Formats = append(info.Formats, libraryFormat(f, streamURL))
		}

		return extractor.Finish(info, media.ProviderYouTube, det.MediaID, media.NeutralCodecRank), nil
	})
}

func libraryFormat(f *ytlib.Format, streamURL string) media.Format {
	ext, vcodec, acodec := extractor.ParseMimeType(f.MimeType)
	width, height := int(f.Width), int(f.Height)
	out := media.Format{
		FormatID:   strconv.Itoa(f.ItagNo),
		Ext:        ext,
		Resolution: media.Resolution(width, height, vcodec != media.CodecNone),
		Quality:    f.QualityLabel,
		VideoCodec: vcodec,
		AudioCodec: acodec,
		URL:        streamURL,
		Width:      width,
		Height:     height,
		Bitrate:    int(f.Bitrate) / 1000,
	}
	if out.Quality == "" {
		out.Quality = f.Quality
	}
	if size := int64(f.ContentLength); size > 0 {
		out.FileSize = &size
	}
	return out
}

func libraryError(err error) error {
	switch {
	case errors.Is(err, ytlib.ErrVideoPrivate):
		return media.NewError(media.CodePrivateContent, "video is private")
	case errors.Is(err, ytlib.ErrLoginRequired):
		return media.NewError(media.CodeAuthExpired, "video requires a signed-in session")
	case errors.Is(err, ytlib.ErrNotPlayableInEmbed):
		return media.NewError(media.CodeNotFound, "video is not playable")
	case errors.Is(err, ytlib.ErrInvalidCharactersInVideoID),
		errors.Is(err, ytlib.ErrVideoIDMinLength):
		return media.NewError(media.CodeInvalidURL, "invalid video id")
	}

	var statusErr *ytlib.ErrPlayabiltyStatus
	if errors.As(err, &statusErr) {
		if strings.Contains(strings.ToLower(statusErr.Reason), "bot") {
			return media.NewError(media.CodeSecurityChallenge, "YouTube requested a sign-in challenge")
		}
		return media.NewError(media.CodeNotFound, "video is not playable")
	}

	var codeErr ytlib.ErrUnexpectedStatusCode
	if errors.As(err, &codeErr) {
		switch int(codeErr) {
		case http.StatusForbidden, http.StatusUnauthorized:
			return media.NewError(media.CodeAuthExpired, "provider rejected the session")
		case http.StatusTooManyRequests:
			return media.NewError(media.CodeQuotaExceeded, "provider rate limit reached")
		case http.StatusNotFound:
			return media.NewError(media.CodeNotFound, "media not found")
		}
		return media.NewError(media.CodeNetworkError, "provider request failed")
	}

	if strings.Contains(err.Error(), "cipher") || strings.Contains(err.Error(), "signature") {
		return media.NewError(media.CodeParseError, "could not decipher stream URLs")
	}
	return err
}
