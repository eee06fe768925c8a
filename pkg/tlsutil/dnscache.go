package tlsutil

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

const defaultResolverRefresh = 5 * time.Minute

var (
	globalResolver     *dnscache.Resolver
	globalResolverOnce sync.Once
	resolverMu         sync.Mutex
	resolverRefreshTTL = defaultResolverRefresh
)

// Resolver returns the process-wide caching resolver used by license server clients.
func Resolver() *dnscache.Resolver {
	globalResolverOnce.Do(func() {
		resolverMu.Lock()
		ttl := resolverRefreshTTL
		resolverMu.Unlock()
		initResolver(ttl)
	})
	return globalResolver
}

func initResolver(ttl time.Duration) {
	log.Debug().
		Dur("ttl", ttl).
		Msg("Initializing DNS resolver cache for license server lookups")

	globalResolver = &dnscache.Resolver{}

	// Refresh drops entries that were not used since the last refresh.
	go func() {
		ticker := time.NewTicker(ttl)
		defer ticker.Stop()

		for range ticker.C {
			globalResolver.Refresh(true)
		}
	}()
}

// SetDNSCacheTTL changes the refresh interval. It only has an effect before
// the first client is created.
func SetDNSCacheTTL(ttl time.Duration) {
	resolverMu.Lock()
	defer resolverMu.Unlock()

	if ttl <= 0 {
		ttl = defaultResolverRefresh
	}
	resolverRefreshTTL = ttl
}

// DialContextWithCache dials address after resolving its host through the cache.
func DialContextWithCache(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	// Literal IPs never go through the resolver.
	if ip := net.ParseIP(host); ip != nil {
		return dialer.DialContext(ctx, network, address)
	}

	ips, err := Resolver().LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{
			Err:  "no IP addresses found",
			Name: host,
		}
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
