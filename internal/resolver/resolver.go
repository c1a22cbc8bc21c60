// Package resolver turns stored camera endpoint descriptors into directly
// fetchable stream URLs and caches the result for a fixed TTL.
package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/smazurov/cctvnode/internal/faults"
	"github.com/smazurov/cctvnode/internal/logging"
	"github.com/smazurov/cctvnode/internal/metrics"
)

// Error codes.
const (
	ErrCodeInvalidDescriptor    faults.Code = "INVALID_DESCRIPTOR"
	ErrCodeEndpointUnresolvable faults.Code = "ENDPOINT_UNRESOLVABLE"
)

// Sentinels for errors.Is.
var (
	ErrInvalidDescriptor    = faults.New(ErrCodeInvalidDescriptor, "invalid descriptor", nil)
	ErrEndpointUnresolvable = faults.New(ErrCodeEndpointUnresolvable, "endpoint unresolvable", nil)
)

const (
	defaultTTL     = 5 * time.Minute
	defaultTimeout = 15 * time.Second
	maxPageBytes   = 4 << 20
	acceptHeader   = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp"
)

// ResolvedStream is a cached resolution.
type ResolvedStream struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Options configures a Resolver.
type Options struct {
	TTL      time.Duration
	Timeout  time.Duration
	Fallback Fallback
	// Now overrides the clock used for expiry.
	Now func() time.Time
}

// Resolver resolves descriptors. It is safe for concurrent use; concurrent
// resolutions of the same key race and the last writer wins.
type Resolver struct {
	client   *http.Client
	cache    *gocache.Cache
	ttl      time.Duration
	timeout  time.Duration
	fallback Fallback
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a resolver that fetches pages with client.
func New(client *http.Client, opts Options) *Resolver {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &Resolver{
		client:   client,
		cache:    gocache.New(opts.TTL, 2*opts.TTL),
		ttl:      opts.TTL,
		timeout:  opts.Timeout,
		fallback: opts.Fallback,
		now:      opts.Now,
		logger:   logging.GetLogger("resolver"),
	}
}

// Resolve returns a direct stream URL for descriptor.
func (r *Resolver) Resolve(ctx context.Context, descriptor string) (string, error) {
	d, err := ParseDescriptor(descriptor)
	if err != nil {
		metrics.RecordResolve(metrics.ResolveFailed)
		return "", err
	}

	if entry, ok := r.lookup(d.Normalized); ok {
		metrics.RecordResolve(metrics.ResolveHit)
		return entry.URL, nil
	}

	if IsPlaylistURL(d.Normalized) {
		metrics.RecordResolve(metrics.ResolveDirect)
		return r.store(d.Normalized, d.Normalized), nil
	}

	found, fetchErr := r.scan(ctx, d.Normalized)
	if found != "" {
		metrics.RecordResolve(metrics.ResolveScanned)
		r.logger.Debug("Stream URL scraped", "descriptor", d.Normalized, "url", found)
		return r.store(d.Normalized, found), nil
	}
	if fetchErr != nil {
		r.logger.Warn("Descriptor page fetch failed", "descriptor", d.Normalized, "error", fetchErr)
	}

	if fallback, ok := r.fallback.Build(d); ok {
		metrics.RecordResolve(metrics.ResolveFallback)
		r.logger.Info("Using fallback stream URL", "descriptor", d.Normalized, "url", fallback)
		return r.store(d.Normalized, fallback), nil
	}

	metrics.RecordResolve(metrics.ResolveFailed)
	return "", faults.Wrap(ErrCodeEndpointUnresolvable, "no stream URL found", fetchErr, map[string]any{"descriptor": d.Normalized})
}

// Lookup returns the live cache entry for descriptor without resolving.
func (r *Resolver) Lookup(descriptor string) (ResolvedStream, bool) {
	d, err := ParseDescriptor(descriptor)
	if err != nil {
		return ResolvedStream{}, false
	}
	return r.lookup(d.Normalized)
}

// Invalidate drops the cache entry for descriptor.
func (r *Resolver) Invalidate(descriptor string) {
	if d, err := ParseDescriptor(descriptor); err == nil {
		r.cache.Delete(d.Normalized)
	}
}

func (r *Resolver) lookup(key string) (ResolvedStream, bool) {
	v, ok := r.cache.Get(key)
	if !ok {
		return ResolvedStream{}, false
	}
	entry := v.(ResolvedStream)
	if !entry.ExpiresAt.After(r.now()) {
		r.cache.Delete(key)
		return ResolvedStream{}, false
	}
	return entry, true
}

func (r *Resolver) store(key, streamURL string) string {
	r.cache.Set(key, ResolvedStream{URL: streamURL, ExpiresAt: r.now().Add(r.ttl)}, gocache.DefaultExpiration)
	return streamURL
}

// scan fetches the descriptor page and searches it for a stream URL.
func (r *Resolver) scan(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", acceptHeader)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return FindStreamURL(string(body)), nil
}
