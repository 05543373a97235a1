package hostfunc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second

	maxRedirects = 10
)

// HTTPConfig limits what scripts can reach. With no allowed hosts every
// request fails with "http not enabled".
type HTTPConfig struct {
	// AllowedHosts are host names or IP literals. A name also allows its
	// subdomains; an IP literal allows only itself.
	AllowedHosts []string
	// MaxBodySize bounds both the request body and the response body read.
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
}

// HTTP backs the script globals http.request and http.get. Redirects are
// followed only to allowed hosts.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	h := &HTTP{cfg: cfg}
	h.client = &http.Client{
		Timeout:       cfg.RequestTimeout,
		CheckRedirect: h.checkRedirect,
	}
	return h
}

// outbound is a script's request once its arguments are validated.
type outbound struct {
	method  string
	target  *url.URL
	body    []byte
	headers http.Header
}

// Request performs http.request(options). options.body may be a string,
// sent as is, or any other value, sent as JSON. The result is
//
//	{status, ok, url, body, truncated, headers}
//
// where url is the address after redirects and headers maps canonical
// names to comma-joined values.
func (h *HTTP) Request(ctx context.Context, args map[string]any) (any, error) {
	out, err := h.outbound(args)
	if err != nil {
		return nil, err
	}
	return h.send(ctx, out)
}

// Get performs http.get(url, headers).
func (h *HTTP) Get(ctx context.Context, args map[string]any) (any, error) {
	get := maps.Clone(args)
	if get == nil {
		get = make(map[string]any)
	}
	get["method"] = http.MethodGet
	delete(get, "body")
	return h.Request(ctx, get)
}

func (h *HTTP) outbound(args map[string]any) (*outbound, error) {
	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodPatch, http.MethodHead, http.MethodOptions:
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return nil, errors.New("url required")
	}
	if len(rawURL) > h.cfg.MaxURLLength {
		return nil, errors.New("url exceeds max length")
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.New("invalid url")
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, errors.New("scheme must be http or https")
	}
	if len(h.cfg.AllowedHosts) == 0 {
		return nil, errors.New("http not enabled")
	}
	if host := normalizeHost(target.Hostname()); !h.isHostAllowed(host) {
		return nil, fmt.Errorf("host not allowed: %s", host)
	}

	out := &outbound{method: method, target: target, headers: make(http.Header)}
	if hs, ok := args["headers"].(map[string]any); ok {
		for k, v := range hs {
			if v != nil {
				out.headers.Set(k, fmt.Sprint(v))
			}
		}
	}

	switch b := args["body"].(type) {
	case nil:
	case string:
		out.body = []byte(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("body is not JSON: %w", err)
		}
		out.body = data
		if out.headers.Get("Content-Type") == "" {
			out.headers.Set("Content-Type", "application/json")
		}
	}
	if int64(len(out.body)) > h.cfg.MaxBodySize {
		return nil, errors.New("request body exceeds max size")
	}
	return out, nil
}

func (h *HTTP) send(ctx context.Context, out *outbound) (any, error) {
	var body io.Reader
	if len(out.body) > 0 {
		body = bytes.NewReader(out.body)
	}
	req, err := http.NewRequestWithContext(ctx, out.method, out.target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = out.headers

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	truncated := int64(len(data)) > h.cfg.MaxBodySize
	if truncated {
		data = data[:h.cfg.MaxBodySize]
	}

	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = strings.Join(v, ", ")
	}

	return map[string]any{
		"status":    resp.StatusCode,
		"ok":        resp.StatusCode >= 200 && resp.StatusCode < 300,
		"url":       resp.Request.URL.String(),
		"body":      string(data),
		"truncated": truncated,
		"headers":   headers,
	}, nil
}

func (h *HTTP) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if host := normalizeHost(req.URL.Hostname()); !h.isHostAllowed(host) {
		return fmt.Errorf("redirect to host not allowed: %s", host)
	}
	return nil
}

// isHostAllowed matches host against the allowlist. IP literals match only
// an equal address.
func (h *HTTP) isHostAllowed(host string) bool {
	host = normalizeHost(host)
	_, ipErr := netip.ParseAddr(host)
	for _, allowed := range h.cfg.AllowedHosts {
		allowed = normalizeHost(allowed)
		if host == allowed {
			return true
		}
		if ipErr == nil {
			continue
		}
		if strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// normalizeHost lowercases names and rewrites IP literals to their
// canonical form, so ::ffff:127.0.0.1 and 127.0.0.1 compare equal.
func normalizeHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.Trim(host, "[]")), ".")
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().WithZone("").String()
	}
	return host
}
