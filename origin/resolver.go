package origin

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/mu-semtech/delta-notifier/errors"
)

// Resolver maps a hostname to the IPv4 address change-sets report as origin.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) (string, error)
}

// NetResolver resolves through the system resolver.
type NetResolver struct {
	Resolver *net.Resolver
}

// LookupIPv4 returns the first IPv4 address of host.
func (n NetResolver) LookupIPv4(ctx context.Context, host string) (string, error) {
	res := n.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	addrs, err := res.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return "", errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrResolveFailed, err), "origin", "LookupIPv4", "lookup "+host)
	}
	if len(addrs) == 0 {
		return "", errors.WrapTransient(fmt.Errorf("%w: no IPv4 address for %s", errors.ErrResolveFailed, host), "origin", "LookupIPv4", "lookup "+host)
	}
	return addrs[0].Unmap().String(), nil
}

// CacheConfig sizes the resolution cache.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// CachingResolver remembers resolutions for TTL and collapses concurrent
// lookups of the same host into one.
type CachingResolver struct {
	next   Resolver
	cache  *expirable.LRU[string, string]
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachingResolver wraps next with a cache.
func NewCachingResolver(next Resolver, cfg CacheConfig, logger *slog.Logger) *CachingResolver {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingResolver{
		next:   next,
		cache:  expirable.NewLRU[string, string](cfg.Size, nil, cfg.TTL),
		logger: logger.With("component", "resolver"),
	}
}

// LookupIPv4 answers from the cache or resolves once for all waiting callers.
// IP literals are returned as they are.
func (c *CachingResolver) LookupIPv4(ctx context.Context, host string) (string, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String(), nil
	}
	if ip, ok := c.cache.Get(host); ok {
		return ip, nil
	}

	v, err, shared := c.group.Do(host, func() (any, error) {
		ip, err := c.next.LookupIPv4(ctx, host)
		if err != nil {
			return "", err
		}
		c.cache.Add(host, ip)
		return ip, nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("Resolved host", "host", host, "ip", v, "shared", shared)
	return v.(string), nil
}

// Len returns the number of cached hosts.
func (c *CachingResolver) Len() int {
	return c.cache.Len()
}
