// Package resolver turns a URL into a resolved media result: it detects the
// provider, consults the result cache, runs the provider's extractor chain
// through the fallback orchestrator and records the outcome.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/extractor/instagram"
	"github.com/mediafetch/backend/internal/extractor/tiktok"
	"github.com/mediafetch/backend/internal/extractor/twitter"
	"github.com/mediafetch/backend/internal/extractor/youtube"
	"github.com/mediafetch/backend/internal/fallback"
	"github.com/mediafetch/backend/internal/media"
)

// Chain is the ordered set of methods used for one provider
type Chain struct {
	Provider   media.ProviderID
	Extractors []extractor.Extractor
	Parallel   bool
	Timeout    time.Duration
	// SequentialRetry reruns the chain in order after a parallel run where
	// every method failed
	SequentialRetry bool
}

// Methods returns the extractor names in priority order
func (c Chain) Methods() []string {
	names := make([]string, len(c.Extractors))
	for i, e := range c.Extractors {
		names[i] = e.Name()
	}
	return names
}

// Run executes the chain for rawURL
func (c Chain) Run(ctx context.Context, orc *fallback.Orchestrator, rawURL string, req Request) media.Result {
	opts := fallback.Options{
		Parallel:          c.Parallel,
		Timeout:           c.Timeout,
		IgnoreHealthCheck: req.IgnoreHealthCheck,
		Extract:           req.Options,
	}

	res := orc.Execute(ctx, c.Extractors, rawURL, opts)
	if res.Success || !c.Parallel || !c.SequentialRetry {
		return res
	}
	if res.Code() == media.CodeNoExtractorsAvailable || ctx.Err() != nil {
		return res
	}

	log.Info(ctx, "parallel run failed, retrying sequentially", map[string]any{
		"provider": string(c.Provider),
		"url":      rawURL,
		"code":     string(res.Code()),
	})
	opts.Parallel = false
	retry := orc.Execute(ctx, c.Extractors, rawURL, opts)
	// the first run may have opened every breaker; its errors say more
	if retry.Code() == media.CodeNoExtractorsAvailable {
		return res
	}
	return retry
}

// Timeouts holds the per-attempt deadline of each provider chain
type Timeouts struct {
	YouTube   time.Duration
	Instagram time.Duration
	TikTok    time.Duration
	Twitter   time.Duration
}

// ChainConfig wires every provider's extractors
type ChainConfig struct {
	YouTube   youtube.Config
	Instagram instagram.Config
	TikTok    tiktok.Config
	Twitter   twitter.Config
	Timeouts  Timeouts
}

// BuildChains creates the provider chains. YouTube races its methods and
// falls back to an ordered retry; the other providers run in order.
func BuildChains(cfg ChainConfig) (map[media.ProviderID]Chain, error) {
	chains := map[media.ProviderID]Chain{
		media.ProviderYouTube: {
			Provider:        media.ProviderYouTube,
			Extractors:      youtube.Extractors(cfg.YouTube),
			Parallel:        true,
			SequentialRetry: true,
			Timeout:         cfg.Timeouts.YouTube,
		},
		media.ProviderInstagram: {
			Provider:   media.ProviderInstagram,
			Extractors: instagram.Extractors(cfg.Instagram),
			Timeout:    cfg.Timeouts.Instagram,
		},
		media.ProviderTikTok: {
			Provider:   media.ProviderTikTok,
			Extractors: tiktok.Extractors(cfg.TikTok),
			Timeout:    cfg.Timeouts.TikTok,
		},
		media.ProviderTwitter: {
			Provider:   media.ProviderTwitter,
			Extractors: twitter.Extractors(cfg.Twitter),
			Timeout:    cfg.Timeouts.Twitter,
		},
	}

	var all []extractor.Extractor
	for _, p := range media.AllProviders() {
		all = append(all, chains[p].Extractors...)
	}
	if err := extractor.CheckUnique(all); err != nil {
		return nil, fmt.Errorf("building extractor chains: %w", err)
	}
	return chains, nil
}
