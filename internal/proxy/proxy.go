package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/streamflix/gateway/internal/observability"
	"github.com/streamflix/gateway/internal/util"
)

// DefaultDialTimeout bounds connection setup to a backend.
const DefaultDialTimeout = 2 * time.Second

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Target is where one request is sent.
type Target struct {
	// Backend names the service for errors, logs and metrics.
	Backend string
	URL     *url.URL
	// Timeout bounds the whole exchange. Zero means no gateway timeout.
	Timeout time.Duration
}

// Forwarder performs backend round trips.
type Forwarder struct {
	transport http.RoundTripper
	logger    observability.Logger
	metrics   *Metrics
}

// Option is a functional option for configuring the Forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithTransport sets the transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.transport = transport
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// NewTransport returns the backend transport with the given dial timeout.
func NewTransport(dialTimeout time.Duration) *http.Transport {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// NewForwarder creates a new Forwarder.
func NewForwarder(opts ...Option) *Forwarder {
	f := &Forwarder{
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = NewTransport(DefaultDialTimeout)
	}
	return f
}

// Forward sends in to target with its path replaced by path and extra set
// on the outbound headers. The caller must close the returned body. A 5xx
// response is returned together with a *util.ServerError.
func (f *Forwarder) Forward(ctx context.Context, target Target, in *http.Request, path string, extra http.Header) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if target.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
	}

	out := outboundRequest(ctx, target.URL, in, path, extra)

	f.logger.Debug("forwarding request",
		observability.String("backend", target.Backend),
		observability.String("method", out.Method),
		observability.String("url", out.URL.String()),
	)

	start := time.Now()
	resp, err := f.transport.RoundTrip(out)
	f.metrics.observe(target.Backend, time.Since(start))
	if err != nil {
		cancel()
		classified, errType := classifyError(ctx, target.Backend, target.Timeout, err)
		f.metrics.recordError(target.Backend, errType)
		if errType != errorTypeCanceled {
			f.logger.Warn("backend call failed",
				observability.String("backend", target.Backend),
				observability.String("error_type", errType),
				observability.Error(err),
			)
		}
		return nil, classified
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	f.metrics.recordResponse(target.Backend, resp.StatusCode)
	if resp.StatusCode >= http.StatusInternalServerError {
		f.metrics.recordError(target.Backend, errorTypeServerError)
		return resp, util.NewServerError(resp.StatusCode)
	}
	return resp, nil
}

func outboundRequest(ctx context.Context, target *url.URL, in *http.Request, path string, extra http.Header) *http.Request {
	out := in.Clone(ctx)
	out.RequestURI = ""
	if in.ContentLength == 0 {
		out.Body = nil
	}

	u := *target
	u.Path = joinPath(target.Path, path)
	u.RawPath = ""
	u.RawQuery = in.URL.RawQuery
	out.URL = &u
	out.Host = target.Host

	removeHopHeaders(out.Header)

	if clientIP, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := in.Header.Get(util.HeaderForwardedFor); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set(util.HeaderForwardedFor, clientIP)
	}
	if in.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}
	out.Header.Set("X-Forwarded-Host", in.Host)

	for k, vs := range extra {
		out.Header[k] = append([]string(nil), vs...)
	}
	return out
}

func joinPath(base, path string) string {
	switch {
	case base == "" || base == "/":
		if path == "" {
			return "/"
		}
		return path
	case path == "" || path == "/":
		return base
	default:
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	}
}

func removeHopHeaders(h http.Header) {
	for _, name := range h.Values("Connection") {
		for _, f := range strings.Split(name, ",") {
			if f = strings.TrimSpace(f); f != "" {
				h.Del(f)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// WriteResponse relays resp to w and closes its body.
func WriteResponse(w http.ResponseWriter, resp *http.Response) error {
	defer resp.Body.Close()

	removeHopHeaders(resp.Header)
	dst := w.Header()
	for k, vs := range resp.Header {
		dst[k] = append(dst[k], vs...)
	}
	w.WriteHeader(resp.StatusCode)

	_, err := io.Copy(w, resp.Body)
	return err
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
