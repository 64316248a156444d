// Package audio relays chapter audio from allowlisted upstream hosts.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"betareader/internal/metrics"
	"betareader/internal/util"
)

const (
	DefaultChunkSize = 64 << 10
	maxRedirects     = 5
	acceptHeader     = "audio/mpeg,audio/*;q=0.9,*/*;q=0.1"
)

var (
	ErrUnknownChapter   = errors.New("unknown chapter")
	ErrSourceNotAllowed = errors.New("audio source not allowed")
)

// passthroughHeaders are copied from the upstream response when present.
var passthroughHeaders = []string{"Accept-Ranges", "Content-Range", "Content-Length", "Content-Disposition"}

// UpstreamError reports that the upstream could not be reached.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return "failed to fetch audio: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ChapterSource resolves a chapter id to its upstream URL.
type ChapterSource interface {
	AudioURL(ctx context.Context, chapterID string) (string, bool, error)
}

// Options configures a Proxy.
type Options struct {
	AllowedHosts []string
	UserAgent    string
	// Timeout bounds connecting and waiting for response headers; the body
	// itself may stream for as long as the client keeps reading.
	Timeout   time.Duration
	ChunkSize int
	Transport http.RoundTripper
}

// Proxy fetches chapter audio and relays it to the caller.
type Proxy struct {
	chapters  ChapterSource
	allowed   []string
	userAgent string
	chunkSize int
	client    *http.Client
}

// NewProxy builds a Proxy.
func NewProxy(chapters ChapterSource, opts Options) *Proxy {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	allowed := make([]string, 0, len(opts.AllowedHosts))
	for _, h := range opts.AllowedHosts {
		h = normalizeHost(h)
		if h != "" {
			allowed = append(allowed, h)
		}
	}
	transport := opts.Transport
	if transport == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.DialContext = (&net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}).DialContext
		base.TLSHandshakeTimeout = opts.Timeout
		base.ResponseHeaderTimeout = opts.Timeout
		// Bytes are relayed verbatim so ranges and lengths stay valid.
		base.DisableCompression = true
		transport = base
	}
	p := &Proxy{
		chapters:  chapters,
		allowed:   allowed,
		userAgent: opts.UserAgent,
		chunkSize: opts.ChunkSize,
	}
	p.client = &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			if !p.Allowed(req.URL) {
				return ErrSourceNotAllowed
			}
			return nil
		},
	}
	return p
}

// Allowed reports whether u is an http(s) URL on an allowlisted host or one
// of its subdomains.
func (p *Proxy) Allowed(u *url.URL) bool {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := normalizeHost(u.Hostname())
	if host == "" {
		return false
	}
	for _, domain := range p.allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Open resolves chapterID and requests the upstream audio, forwarding
// rangeHeader verbatim when set. The caller must pass the response to Relay.
func (p *Proxy) Open(ctx context.Context, chapterID, rangeHeader string) (*http.Response, error) {
	src, ok, err := p.chapters.AudioURL(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("resolve chapter: %w", err)
	}
	if !ok {
		return nil, ErrUnknownChapter
	}
	u, err := url.Parse(src)
	if err != nil || !p.Allowed(u) {
		metrics.RecordAudioStream(metrics.StreamRejected, 0)
		return nil, ErrSourceNotAllowed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", acceptHeader)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrSourceNotAllowed) {
			metrics.RecordAudioStream(metrics.StreamRejected, 0)
			return nil, ErrSourceNotAllowed
		}
		metrics.RecordAudioStream(metrics.StreamUpstreamError, 0)
		return nil, &UpstreamError{Err: err}
	}
	return resp, nil
}

// Relay writes the upstream status, selected headers and body to w in
// fixed-size chunks, flushing after each. It stops quietly when either side
// goes away and always closes the upstream body.
func (p *Proxy) Relay(ctx context.Context, w http.ResponseWriter, resp *http.Response) int64 {
	defer resp.Body.Close()
	logger := util.LoggerFromContext(ctx)

	h := w.Header()
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	h.Set("Content-Type", contentType)
	for _, name := range passthroughHeaders {
		if v := resp.Header.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	if h.Get("Content-Length") == "" && resp.ContentLength >= 0 && !resp.Uncompressed {
		h.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(resp.StatusCode)

	rc := http.NewResponseController(w)
	buf := make([]byte, p.chunkSize)
	var written int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				logger.Debug("audio client went away", "err", err, "bytes", written)
				metrics.RecordAudioStream(metrics.StreamClientGone, written)
				return written
			}
			written += int64(n)
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				logger.Debug("audio flush failed", "err", err, "bytes", written)
				metrics.RecordAudioStream(metrics.StreamClientGone, written)
				return written
			}
		}
		if readErr == io.EOF {
			metrics.RecordAudioStream(metrics.StreamCompleted, written)
			return written
		}
		if readErr != nil {
			if ctx.Err() != nil {
				logger.Debug("audio client went away", "err", readErr, "bytes", written)
				metrics.RecordAudioStream(metrics.StreamClientGone, written)
				return written
			}
			logger.Warn("audio upstream read failed", "err", readErr, "bytes", written)
			metrics.RecordAudioStream(metrics.StreamUpstreamReadFail, written)
			return written
		}
	}
}

func normalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}
