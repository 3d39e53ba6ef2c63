package ytdlp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

// defaultFormatSelector asks for merged best video+audio, falling back to the
// best single file
const defaultFormatSelector = "bv*+ba/b"

// Extractor is the shell-out extraction method for one provider
type Extractor struct {
	extractor.Base
	runner   Runner
	cfg      *Config
	rank     media.CodecRank
	selector string
	cookies  extractor.CookieSource
}

// Option configures an Extractor
type Option func(*Extractor)

// WithCodecRank orders formats within a bucket by codec preference
func WithCodecRank(rank media.CodecRank) Option {
	return func(e *Extractor) { e.rank = rank }
}

// WithCookies supplies session cookies sent as a Cookie header
func WithCookies(src extractor.CookieSource) Option {
	return func(e *Extractor) { e.cookies = src }
}

// NewExtractor creates the yt-dlp method for the provider recognised by matcher
func NewExtractor(name string, matcher provider.Matcher, runner Runner, cfg *Config, opts ...Option) *Extractor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Extractor{
		Base:     extractor.NewBase(name, matcher),
		runner:   runner,
		cfg:      cfg,
		rank:     media.NeutralCodecRank,
		selector: defaultFormatSelector,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsAvailable reports whether the binary is installed
func (e *Extractor) IsAvailable(ctx context.Context) bool {
	return e.runner != nil && e.runner.Available()
}

// Extract runs yt-dlp -J and converts its output
func (e *Extractor) Extract(ctx context.Context, rawURL string, opts extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		if e.runner == nil {
			return nil, media.NewError(media.CodeDependencyMissing, "yt-dlp is not installed")
		}

		cookies := extractor.ResolveCookies(ctx, e.cookies, e.Provider(), opts)
		stdout, stderr, err := e.runner.Run(ctx, e.args(rawURL, cookies, opts))
		if err != nil {
			return nil, categorizeError(ctx, err, stderr)
		}

		var out Output
		if err := json.Unmarshal(stdout, &out); err != nil {
			return nil, media.NewError(media.CodeParseError, "failed to parse yt-dlp output")
		}
		return out.ToMediaInfo(e.Provider(), e.rank), nil
	})
}

func (e *Extractor) args(rawURL, cookies string, opts extractor.Options) []string {
	args := []string{
		"-J",
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"-f", e.selector,
	}
	if e.cfg.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(e.cfg.SocketTimeout.Seconds())))
	}
	if e.cfg.CookiesFile != "" {
		args = append(args, "--cookies", e.cfg.CookiesFile)
	} else if e.cfg.CookiesFromBrowser != "" {
		args = append(args, "--cookies-from-browser", e.cfg.CookiesFromBrowser)
	}
	if cookies != "" {
		args = append(args, "--add-header", "Cookie: "+cookies)
	}
	if opts.UserAgent != "" {
		args = append(args, "--user-agent", opts.UserAgent)
	}

	// sorted so the command line is deterministic
	keys := make([]string, 0, len(opts.Headers))
	for k := range opts.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--add-header", fmt.Sprintf("%s: %s", k, opts.Headers[k]))
	}

	args = append(args, e.cfg.ExtraArgs...)
	// "--" keeps a URL starting with "-" from being read as an option
	return append(args, "--", rawURL)
}
