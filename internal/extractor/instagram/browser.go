package instagram

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

var chromeCandidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}

// Browser renders the post in headless Chrome and collects the video
// elements' sources and the video responses the page loads
type Browser struct {
	extractor.Base
	chromePath string
	cookies    extractor.CookieSource

	once     sync.Once
	execPath string
}

// NewBrowser creates the headless browser method
func NewBrowser(matcher provider.Matcher, cfg Config) *Browser {
	return &Browser{
		Base:       extractor.NewBase(MethodBrowser, matcher),
		chromePath: cfg.ChromePath,
		cookies:    cfg.Cookies,
	}
}

// IsAvailable reports whether a Chrome binary can be found
func (e *Browser) IsAvailable(context.Context) bool {
	return e.lookPath() != ""
}

func (e *Browser) lookPath() string {
	e.once.Do(func() {
		candidates := chromeCandidates
		if e.chromePath != "" {
			candidates = []string{e.chromePath}
		}
		for _, c := range candidates {
			if p, err := exec.LookPath(c); err == nil {
				e.execPath = p
				return
			}
		}
	})
	return e.execPath
}

// Extract loads the post page and waits for a video element
func (e *Browser) Extract(ctx context.Context, rawURL string, opts extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}
		path := e.lookPath()
		if path == "" {
			return nil, media.NewError(media.CodeDependencyMissing, "Chrome is not installed")
		}

		ua := opts.UserAgent
		if ua == "" {
			ua = httpclient.DesktopUserAgent
		}
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.ExecPath(path),
			chromedp.UserAgent(ua),
		)
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
		defer cancelAlloc()
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
		defer cancelBrowser()

		var (
			mu        sync.Mutex
			responses []string
		)
		chromedp.ListenTarget(browserCtx, func(ev interface{}) {
			if resp, ok := ev.(*network.EventResponseReceived); ok {
				if strings.HasPrefix(resp.Response.MimeType, "video/") {
					mu.Lock()
					responses = append(responses, resp.Response.URL)
					mu.Unlock()
				}
			}
		})

		cookies := extractor.ResolveCookies(ctx, e.cookies, media.ProviderInstagram, opts)
		var (
			sources []string
			title   string
		)
		err := chromedp.Run(browserCtx,
			network.Enable(),
			chromedp.ActionFunc(func(ctx context.Context) error {
				for _, c := range parseCookies(cookies) {
					if err := network.SetCookie(c[0], c[1]).WithDomain(".instagram.com").WithPath("/").Do(ctx); err != nil {
						return err
					}
				}
				return nil
			}),
			chromedp.Navigate(det.Canonical),
			chromedp.WaitReady("video", chromedp.ByQuery),
			chromedp.Evaluate(`[...document.querySelectorAll('video')].map(v => v.currentSrc || v.src).filter(Boolean)`, &sources),
			chromedp.Evaluate(`(document.querySelector('meta[property="og:title"]') || {}).content || document.title`, &title),
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, media.NewError(media.CodeNetworkError, "browser navigation failed")
		}

		mu.Lock()
		collected := append(sources, responses...)
		mu.Unlock()

		info := &media.MediaInfo{Title: title}
		for i, u := range browserVideoURLs(collected) {
			info.Formats = append(info.Formats, extractor.ProgressiveMP4(browserFormatID(i), u, 0, 0, 0))
		}
		if len(info.Formats) == 0 {
			return nil, media.NewError(media.CodeNoFormats, "page only exposes media source streams")
		}
		return extractor.Finish(info, media.ProviderInstagram, det.MediaID, media.PreferH264), nil
	})
}

func browserFormatID(i int) string {
	return fmt.Sprintf("browser-%d", i+1)
}

// browserVideoURLs drops blob: sources and collapses byte-range requests for
// the same file into one URL
func browserVideoURLs(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if !strings.HasPrefix(r, "http") {
			continue
		}
		u, err := url.Parse(r)
		if err != nil {
			continue
		}
		q := u.Query()
		q.Del("bytestart")
		q.Del("byteend")
		u.RawQuery = q.Encode()
		clean := u.String()
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}

// parseCookies splits a Cookie header into name/value pairs
func parseCookies(header string) [][2]string {
	var out [][2]string
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k != "" {
			out = append(out, [2]string{k, v})
		}
	}
	return out
}
