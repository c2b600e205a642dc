// Package relay forwards inference traffic to the upstream LLM relay and
// scrubs channel details out of upstream error bodies.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"warden/internal/abuse/masking"
	"warden/internal/abuse/models"
)

// maxMaskedBody caps how much of an upstream error body is buffered for masking.
const maxMaskedBody = 1 << 20

// SettingsSource returns the current settings snapshot.
type SettingsSource interface {
	Get() *models.Snapshot
}

type Option func(*Proxy)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) {
		if rt != nil {
			p.transport = rt
		}
	}
}

// Proxy is a single-host reverse proxy with response masking.
type Proxy struct {
	target    *url.URL
	settings  SettingsSource
	logger    *slog.Logger
	transport http.RoundTripper
	proxy     *httputil.ReverseProxy
}

func New(upstream string, settings SettingsSource, opts ...Option) (*Proxy, error) {
	target, err := url.Parse(upstream)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", upstream)
	}
	p := &Proxy{
		target:   target,
		settings: settings,
		logger:   slog.Default(),
		transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	rp := httputil.NewSingleHostReverseProxy(target)
	rp.Transport = p.transport
	rp.ModifyResponse = p.maskResponse
	rp.ErrorHandler = p.handleError
	p.proxy = rp
	return p, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, r)
}

func (p *Proxy) options() masking.Options {
	snap := p.settings.Get()
	if snap == nil {
		return masking.Options{}
	}
	return masking.OptionsFrom(snap.Settings)
}

// maskResponse rewrites error bodies only; successful and streamed
// responses pass through untouched.
func (p *Proxy) maskResponse(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	if resp.Header.Get("Content-Encoding") != "" {
		return nil
	}
	opts := p.options()
	if !opts.Enabled {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMaskedBody))
	resp.Body.Close() //nolint:errcheck // body fully consumed
	if err != nil {
		return fmt.Errorf("read upstream error body: %w", err)
	}
	masked := masking.MaskErrorBody(body, opts)
	resp.Body = io.NopCloser(bytes.NewReader(masked))
	resp.ContentLength = int64(len(masked))
	resp.Header.Set("Content-Length", strconv.Itoa(len(masked)))
	return nil
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		// Client went away; nothing useful to write.
		return
	}
	p.logger.WarnContext(r.Context(), "upstream request failed",
		"path", r.URL.Path,
		"error", err,
	)
	message := masking.SafeMessage(err.Error(), p.options())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%s,"type":"upstream_error"}}`, strconv.Quote(message))
}
