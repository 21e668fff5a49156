package system

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jxwalker/modshelf/internal/errors"
)

// CheckAPI resolves the host of baseURL and issues one GET to probePath on it. Any HTTP
// answer below 500 counts as reachable; auth and rate limits are reported elsewhere.
func CheckAPI(ctx context.Context, client *http.Client, baseURL, probePath string) error {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid base url %q", baseURL)
	}
	if err := checkDNS(ctx, u.Hostname()); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+probePath, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		if strings.Contains(err.Error(), "certificate") || strings.Contains(err.Error(), "x509") {
			return errors.NewFriendlyError(
				"SSL/TLS certificate verification failed",
				"You may be behind a corporate proxy or firewall:\n"+
					"1. Check proxy settings: echo $HTTP_PROXY $HTTPS_PROXY\n"+
					"2. Point SSL_CERT_FILE at your proxy's CA bundle",
			).WithDetails(err)
		}
		return errors.NetworkError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s answered %s", u.Host, resp.Status)
	}
	return nil
}

// checkDNS skips resolution for IP literals.
func checkDNS(ctx context.Context, host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}
	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		return errors.NewFriendlyError(
			fmt.Sprintf("Cannot resolve host: %s", host),
			"Check your network connection and DNS settings:\n"+
				"1. Check DNS servers: cat /etc/resolv.conf\n"+
				"2. Test DNS: nslookup "+host,
		).WithDetails(err)
	}
	return nil
}

// DetectProxySettings returns proxy variables set in the environment.
func DetectProxySettings() map[string]string {
	proxies := make(map[string]string)
	for _, v := range []string{"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "no_proxy"} {
		if val := os.Getenv(v); val != "" {
			proxies[v] = val
		}
	}
	return proxies
}
