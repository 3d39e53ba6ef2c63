package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

const (
	rehydrationScriptID = "__UNIVERSAL_DATA_FOR_REHYDRATION__"
	videoDetailScope    = "webapp.video-detail"

	statusItemNotFound = 10204
	statusPrivateItem  = 10222
)

// HTML scrapes the rehydration blob of the video page through the
// browser-fingerprinted client
type HTML struct {
	extractor.Base
	matcher  provider.Matcher
	http     *httpclient.Client
	pageBase string
	cookies  extractor.CookieSource
	sink     extractor.DiagnosticSink
}

// NewHTML creates the page scraper
func NewHTML(matcher provider.Matcher, cfg Config) *HTML {
	cfg.defaults()
	return &HTML{
		Base:     extractor.NewBase(MethodHTML, matcher),
		matcher:  matcher,
		http:     cfg.BrowserHTTP,
		pageBase: cfg.PageBase,
		cookies:  cfg.Cookies,
		sink:     cfg.Sink,
	}
}

// IsAvailable is always true
func (e *HTML) IsAvailable(context.Context) bool { return true }

type rehydrationData struct {
	DefaultScope map[string]json.RawMessage `json:"__DEFAULT_SCOPE__"`
}

type videoDetail struct {
	StatusCode int    `json:"statusCode"`
	StatusMsg  string `json:"statusMsg"`
	ItemInfo   struct {
		ItemStruct *itemStruct `json:"itemStruct"`
	} `json:"itemInfo"`
}

type itemStruct struct {
	ID    string `json:"id"`
	Desc  string `json:"desc"`
	Video struct {
		Duration     int    `json:"duration"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		PlayAddr     string `json:"playAddr"`
		DownloadAddr string `json:"downloadAddr"`
		Cover        string `json:"cover"`
		CodecType    string `json:"codecType"`
		BitrateInfo  []struct {
			Bitrate   int    `json:"Bitrate"`
			CodecType string `json:"CodecType"`
			GearName  string `json:"GearName"`
			PlayAddr  struct {
				URLList  []string `json:"UrlList"`
				Width    int      `json:"Width"`
				Height   int      `json:"Height"`
				DataSize int64    `json:"DataSize"`
			} `json:"PlayAddr"`
		} `json:"bitrateInfo"`
	} `json:"video"`
	Music struct {
		PlayURL string `json:"playUrl"`
		Title   string `json:"title"`
	} `json:"music"`
}

// Extract fetches the video page. Share links redirect to it first.
func (e *HTML) Extract(ctx context.Context, rawURL string, opts extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}

		resp, err := e.http.Get(ctx, rebase(det.Canonical, e.pageBase),
			extractor.RequestHeaders(nil, opts),
			extractor.ResolveCookies(ctx, e.cookies, media.ProviderTikTok, opts),
		)
		if err != nil {
			return nil, err
		}

		mediaID := det.MediaID
		if final := e.matcher.Match(rebase(resp.FinalURL, "https://www.tiktok.com")); final.Supported {
			mediaID = final.MediaID
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			return nil, media.NewError(media.CodeParseError, "unreadable video page")
		}
		script := doc.Find("script#" + rehydrationScriptID)
		if script.Length() == 0 {
			e.sink.Snapshot(ctx, e.Name(), resp.Body)
			if bytes.Contains(resp.Body, []byte("captcha")) {
				return nil, media.NewError(media.CodeSecurityChallenge, "TikTok served a captcha")
			}
			return nil, media.NewError(media.CodeParseError, "rehydration data not found")
		}

		var data rehydrationData
		if err := json.Unmarshal([]byte(script.Text()), &data); err != nil {
			e.sink.Snapshot(ctx, e.Name(), resp.Body)
			return nil, media.NewError(media.CodeParseError, "malformed rehydration data")
		}
		raw, ok := data.DefaultScope[videoDetailScope]
		if !ok {
			e.sink.Snapshot(ctx, e.Name(), resp.Body)
			return nil, media.NewError(media.CodeParseError, "video detail missing from page")
		}

		var detail videoDetail
		if err := json.Unmarshal(raw, &detail); err != nil {
			return nil, media.NewError(media.CodeParseError, "malformed video detail")
		}
		switch {
		case detail.StatusCode == statusPrivateItem:
			return nil, media.NewError(media.CodePrivateContent, "video is private")
		case detail.StatusCode == statusItemNotFound:
			return nil, media.NewError(media.CodeNotFound, "video was removed")
		case detail.StatusCode != 0 || detail.ItemInfo.ItemStruct == nil:
			return nil, media.NewError(media.CodeNotFound, "video not found")
		}

		return detail.ItemInfo.ItemStruct.toMediaInfo(mediaID), nil
	})
}

func (it *itemStruct) toMediaInfo(mediaID string) *media.MediaInfo {
	v := it.Video
	info := &media.MediaInfo{
		Title:       it.Desc,
		Description: it.Desc,
		Thumbnail:   v.Cover,
		Duration:    time.Duration(v.Duration) * time.Second,
	}

	for _, b := range v.BitrateInfo {
		if len(b.PlayAddr.URLList) == 0 {
			continue
		}
		f := extractor.ProgressiveMP4(b.GearName, b.PlayAddr.URLList[0], b.PlayAddr.Width, b.PlayAddr.Height, b.Bitrate/1000)
		f.VideoCodec = videoCodec(b.CodecType)
		if b.PlayAddr.DataSize > 0 {
			size := b.PlayAddr.DataSize
			f.FileSize = &size
		}
		info.Formats = append(info.Formats, f)
	}
	if len(info.Formats) == 0 && v.PlayAddr != "" {
		f := extractor.ProgressiveMP4("play", v.PlayAddr, v.Width, v.Height, 0)
		f.VideoCodec = videoCodec(v.CodecType)
		info.Formats = append(info.Formats, f)
	}
	if v.DownloadAddr != "" {
		f := extractor.ProgressiveMP4("download", v.DownloadAddr, v.Width, v.Height, 0)
		f.Quality = "watermarked"
		info.Formats = append(info.Formats, f)
	}
	if it.Music.PlayURL != "" {
		info.Formats = append(info.Formats, extractor.AudioOnly("audio", it.Music.PlayURL, "mp3", "mp3", 0))
	}

	return extractor.Finish(info, media.ProviderTikTok, mediaID, media.PreferH264)
}
