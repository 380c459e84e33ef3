package vision

import (
	"context"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/soypete/alttext/pkg/metrics"
)

const (
	DefaultProbeTimeout  = 5 * time.Second
	DefaultProbeCacheTTL = 2 * time.Minute
	probeCleanupInterval = 10 * time.Minute
)

// Prober checks whether a public asset URL can be fetched by the vendor.
// Redirects are followed and only a final 200 counts as reachable.
type Prober struct {
	client *http.Client
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewProber creates a prober. A non-positive ttl disables result caching.
func NewProber(timeout, ttl time.Duration, logger zerolog.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	p := &Prober{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
	if ttl > 0 {
		p.cache = cache.New(ttl, probeCleanupInterval)
	}
	return p
}

// NewProberWithClient creates an uncached prober around an existing client.
func NewProberWithClient(client *http.Client, logger zerolog.Logger) *Prober {
	return &Prober{client: client, logger: logger}
}

// Reachable sends a HEAD request to url.
func (p *Prober) Reachable(ctx context.Context, url string) bool {
	if url == "" {
		return false
	}
	if p.cache != nil {
		if v, ok := p.cache.Get(url); ok {
			return v.(bool)
		}
	}

	ok := p.head(ctx, url)
	result := "unreachable"
	if ok {
		result = "reachable"
	}
	metrics.ProbeResultsTotal.WithLabelValues(result).Inc()

	if p.cache != nil {
		p.cache.SetDefault(url, ok)
	}
	return ok
}

func (p *Prober) head(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		p.logger.Debug().Err(err).Str("url", url).Msg("probe: bad url")
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Str("url", url).Msg("probe: request failed")
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
