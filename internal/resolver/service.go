package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mediafetch/backend/internal/cache"
	"github.com/mediafetch/backend/internal/db"
	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/events"
	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/fallback"
	"github.com/mediafetch/backend/internal/logger"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

// DefaultCacheTTL is how long a video result stays cached
const DefaultCacheTTL = 10 * time.Minute

var log = logger.WithComponent("resolver")

// ResultCache stores resolved results
type ResultCache interface {
	GetResult(ctx context.Context, key string) (media.Result, bool)
	SetResult(ctx context.Context, key string, res media.Result, ttl time.Duration) error
}

// ResolutionLog appends an audit row per resolution
type ResolutionLog interface {
	Create(ctx context.Context, res *db.Resolution) error
}

// Request is one resolution request
type Request struct {
	URL     string
	Options extractor.Options
	// SkipCache forces a fresh extraction
	SkipCache         bool
	IgnoreHealthCheck bool
	// APIKeyID attributes the request in the resolution log
	APIKeyID string
}

// Resolution is the outcome of Resolve
type Resolution struct {
	Detection provider.Detection
	Result    media.Result
	Cached    bool
	Elapsed   time.Duration
}

// ProviderMethods lists a provider and its methods in priority order
type ProviderMethods struct {
	Provider media.ProviderID `json:"provider"`
	Label    string           `json:"label"`
	Parallel bool             `json:"parallel"`
	Methods  []string         `json:"methods"`
}

// ServiceConfig holds the resolver's collaborators. Cache, Log and Events
// are optional.
type ServiceConfig struct {
	Detector     *provider.Detector
	Orchestrator *fallback.Orchestrator
	Chains       map[media.ProviderID]Chain
	Cache        ResultCache
	CacheTTL     time.Duration
	Log          ResolutionLog
	Events       events.Publisher
}

// Service resolves URLs
type Service struct {
	detector *provider.Detector
	orc      *fallback.Orchestrator
	chains   map[media.ProviderID]Chain
	cache    ResultCache
	cacheTTL time.Duration
	log      ResolutionLog
	events   events.Publisher
}

// NewService creates a resolver service
func NewService(cfg *ServiceConfig) *Service {
	s := &Service{
		detector: cfg.Detector,
		orc:      cfg.Orchestrator,
		chains:   cfg.Chains,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		log:      cfg.Log,
		events:   cfg.Events,
	}
	if s.detector == nil {
		s.detector = provider.DefaultDetector()
	}
	if s.orc == nil {
		s.orc = fallback.New(nil)
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = DefaultCacheTTL
	}
	if s.events == nil {
		s.events = events.NopPublisher{}
	}
	return s
}

// Detector returns the URL detector
func (s *Service) Detector() *provider.Detector { return s.detector }

// Orchestrator returns the fallback orchestrator
func (s *Service) Orchestrator() *fallback.Orchestrator { return s.orc }

// Providers lists each registered provider with its chain
func (s *Service) Providers() []ProviderMethods {
	var out []ProviderMethods
	for _, p := range s.detector.Providers() {
		pm := ProviderMethods{Provider: p, Label: p.Label(), Methods: []string{}}
		if c, ok := s.chains[p]; ok {
			pm.Parallel = c.Parallel
			pm.Methods = c.Methods()
		}
		out = append(out, pm)
	}
	return out
}

// HasMethod reports whether any chain contains the named method
func (s *Service) HasMethod(name string) bool {
	for _, c := range s.chains {
		for _, e := range c.Extractors {
			if e.Name() == name {
				return true
			}
		}
	}
	return false
}

// Resolve detects the provider of req.URL and extracts its media. Input
// errors, cache hits and chain results all come back as a Resolution; the
// Result carries any failure.
func (s *Service) Resolve(ctx context.Context, req Request) (out Resolution) {
	start := time.Now()
	det := s.detector.Detect(req.URL)

	out.Detection = det
	defer func() {
		out.Elapsed = time.Since(start)
		s.record(ctx, req, out)
	}()

	if !det.Supported {
		code := media.CodeUnsupportedProvider
		if det.Provider != "" {
			code = media.CodeInvalidURL
		}
		out.Result = extractor.Failure("", start, media.NewError(code, "%s", det.Reason))
		return out
	}

	chain, ok := s.chains[det.Provider]
	if !ok {
		out.Result = extractor.Failure("", start, media.NewError(media.CodeNoExtractorsAvailable,
			"no extraction methods are configured for %s", det.Provider.Label()))
		return out
	}

	key := cache.Key(det.Provider, canonical(det))
	if s.cache != nil && !req.SkipCache {
		if res, hit := s.cache.GetResult(ctx, key); hit {
			out.Result = res
			out.Cached = true
			return out
		}
	}

	out.Result = chain.Run(ctx, s.orc, provider.WithScheme(det.URL), req)

	if s.cache != nil {
		if err := s.cache.SetResult(ctx, key, out.Result, s.cacheTTL); err != nil {
			log.Warn(ctx, "failed to cache result", map[string]any{"key": key, "error": err.Error()})
		}
	}
	return out
}

func canonical(det provider.Detection) string {
	if det.Canonical != "" {
		return det.Canonical
	}
	return det.URL
}

// record publishes the completion event and appends the audit row. Both
// outlive a cancelled request.
func (s *Service) record(ctx context.Context, req Request, out Resolution) {
	ctx = context.WithoutCancel(ctx)
	res := out.Result

	fields := map[string]any{
		"url":         req.URL,
		"provider":    string(out.Detection.Provider),
		"method":      res.Method,
		"success":     res.Success,
		"grade":       res.Grade().String(),
		"cached":      out.Cached,
		"duration_ms": out.Elapsed.Milliseconds(),
	}
	if !res.Success {
		fields["code"] = string(res.Code())
	}
	log.Info(ctx, "resolution finished", fields)

	event := events.ResolveCompleted{
		RequestID:  apperrors.GetRequestID(ctx),
		APIKeyID:   req.APIKeyID,
		Provider:   out.Detection.Provider,
		URL:        req.URL,
		Method:     res.Method,
		Success:    res.Success,
		Code:       res.Code(),
		Grade:      res.Grade().String(),
		Cached:     out.Cached,
		DurationMs: out.Elapsed.Milliseconds(),
		At:         time.Now(),
	}
	if err := s.events.Publish(ctx, events.KeyResolveCompleted, event); err != nil {
		log.Warn(ctx, "failed to publish resolution event", map[string]any{"error": err.Error()})
	}

	if s.log == nil {
		return
	}
	row := &db.Resolution{
		URL:        req.URL,
		Provider:   string(out.Detection.Provider),
		Method:     res.Method,
		Success:    res.Success,
		ErrorCode:  string(res.Code()),
		Grade:      res.Grade().String(),
		Cached:     out.Cached,
		DurationMs: out.Elapsed.Milliseconds(),
	}
	if id, err := uuid.Parse(req.APIKeyID); err == nil {
		row.APIKeyID = &id
	}
	if err := s.log.Create(ctx, row); err != nil {
		log.Error(ctx, "failed to write resolution log", err, map[string]any{"url": req.URL})
	}
}
