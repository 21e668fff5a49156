package civitai

import (
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jxwalker/modshelf/internal/config"
)

// NewHTTPClient builds the shared client for API calls and image fetches.
func NewHTTPClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Network.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Network.TimeoutSeconds) * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	client := &http.Client{Transport: tr, Timeout: timeout}
	// Image URLs redirect to a CDN; keep the UA but only forward Authorization to the same host.
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return http.ErrUseLastResponse
		}
		prev := via[len(via)-1]
		if ua := prev.Header.Get("User-Agent"); ua != "" {
			req.Header.Set("User-Agent", ua)
		}
		if prev.URL != nil && req.URL != nil && strings.EqualFold(prev.URL.Host, req.URL.Host) {
			if auth := prev.Header.Get("Authorization"); auth != "" {
				req.Header.Set("Authorization", auth)
			}
		} else {
			req.Header.Del("Authorization")
		}
		return nil
	}
	return client
}

func parseRetryAfter(raw string) time.Duration {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(http.TimeFormat, s); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
