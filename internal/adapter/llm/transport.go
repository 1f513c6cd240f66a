package llm

import (
	"net"
	"net/http"
	"time"

	"snapsight/internal/infra/config"
)

// The vision API is a single host, so the pool is small and connections
// are kept warm between snaps.
var defaultPool = config.PoolConfig{
	MaxIdleConns:        20,
	MaxIdleConnsPerHost: 10,
	MaxConnsPerHost:     20,
	IdleConnTimeout:     120 * time.Second,
}

const (
	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 60 * time.Second
)

func orDefault[T ~int | ~uint32 | ~int64](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// NewPooledTransport returns a keep-alive transport. Zero or negative pool
// fields fall back to defaultPool.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   orDefault(connTimeout, defaultConnTimeout),
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: orDefault(respTimeout, defaultRespTimeout),
		MaxIdleConns:          orDefault(pool.MaxIdleConns, defaultPool.MaxIdleConns),
		MaxIdleConnsPerHost:   orDefault(pool.MaxIdleConnsPerHost, defaultPool.MaxIdleConnsPerHost),
		MaxConnsPerHost:       orDefault(pool.MaxConnsPerHost, defaultPool.MaxConnsPerHost),
		IdleConnTimeout:       orDefault(pool.IdleConnTimeout, defaultPool.IdleConnTimeout),
	}
}

// NewHTTPClient builds the provider's client. The overall timeout is the
// connect budget plus the response budget.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	conn := orDefault(cfg.ConnTimeout, defaultConnTimeout)
	resp := orDefault(cfg.RespTimeout, defaultRespTimeout)
	return &http.Client{
		Transport: NewPooledTransport(conn, resp, cfg.Pool),
		Timeout:   conn + resp,
	}
}
