// Package transport builds the outbound HTTP clients shared by the price feed
// and the chat channel.
package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// NewClient returns an HTTP client with the given timeout, routed through
// proxyURL when it is non-empty.
func NewClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}, nil
	}
	tr := base.Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("proxy url %q must include scheme and host", proxyURL)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Timeout: timeout, Transport: tr}, nil
}
