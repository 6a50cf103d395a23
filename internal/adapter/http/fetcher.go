package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/cwygoda/harvester/internal/domain"
)

// Options configures a Fetcher.
type Options struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	// VerifyTLS enables certificate verification, which is off by default.
	VerifyTLS bool
	// MaxIdleConns bounds the shared keep-alive pool. Zero uses 100.
	MaxIdleConns int
}

// Fetcher implements domain.PageFetcher over a shared HTTP client.
type Fetcher struct {
	client       *http.Client
	maxBodyBytes int64
}

// NewFetcher creates a fetcher whose requests are bounded by opts.Timeout.
func NewFetcher(opts Options) *Fetcher {
	maxIdle := opts.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 100
	}

	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: true,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: !opts.VerifyTLS}, //nolint:gosec
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// Fetch retrieves address with the given profile's headers. It returns
// *domain.StatusError for non-2xx responses, domain.ErrNotHTML when the
// content type is not text/html and domain.ErrBodyTooLarge past the size limit.
func (f *Fetcher) Fetch(ctx context.Context, address string, profile domain.HeaderProfile) (*domain.ScrapeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range profile.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.StatusError{Code: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, fmt.Errorf("%w: %q", domain.ErrNotHTML, contentType)
	}

	raw, err := f.readLimited(resp.Body)
	if err != nil {
		return nil, err
	}

	decoded, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	content, err := io.ReadAll(decoded)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}

	return &domain.ScrapeResult{
		Address:   address,
		Content:   string(content),
		FetchedAt: time.Now(),
	}, nil
}

func (f *Fetcher) readLimited(body io.Reader) ([]byte, error) {
	if f.maxBodyBytes <= 0 {
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return raw, nil
	}

	raw, err := io.ReadAll(io.LimitReader(body, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > f.maxBodyBytes {
		return nil, fmt.Errorf("%w: over %d bytes", domain.ErrBodyTooLarge, f.maxBodyBytes)
	}
	return raw, nil
}
