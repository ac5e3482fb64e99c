package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"pkt.systems/pslog"

	"github.com/standardbeagle/flycli/internal/metrics"
)

// maxInjectBody caps how much of an HTML response is buffered for launcher
// injection. Larger documents pass through untouched.
const maxInjectBody = 16 << 20

// upstream forwards requests to the wrapped application on localhost.
type upstream struct {
	appPort        atomic.Int64
	injectLauncher bool
	proxy          *httputil.ReverseProxy
}

func newUpstream(appPort int, injectLauncher bool, errorLog *log.Logger) *upstream {
	u := &upstream{injectLauncher: injectLauncher}
	u.appPort.Store(int64(appPort))
	u.proxy = &httputil.ReverseProxy{
		Rewrite:        u.rewrite,
		FlushInterval:  -1,
		ModifyResponse: u.modifyResponse,
		ErrorHandler:   u.errorHandler,
		ErrorLog:       errorLog,
	}
	return u
}

// target is the application base URL. It is read per request so a port
// detected after startup takes effect immediately.
func (u *upstream) target() *url.URL {
	return &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort("localhost", strconv.FormatInt(u.appPort.Load(), 10)),
	}
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.proxy.ServeHTTP(w, r)
}

func (u *upstream) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(u.target())
	pr.SetXForwarded()
}

func (u *upstream) modifyResponse(resp *http.Response) error {
	metrics.Proxied(resp.StatusCode)
	stripCookieDomains(resp.Header)

	if !u.injectLauncher || !ShouldInject(resp.Header.Get("Content-Type")) {
		return nil
	}
	if resp.Request != nil && resp.Request.Method == http.MethodHead {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified {
		return nil
	}
	if resp.ContentLength > maxInjectBody {
		return nil
	}

	orig := resp.Body
	raw, err := io.ReadAll(io.LimitReader(orig, maxInjectBody+1))
	if err != nil {
		orig.Close()
		return err
	}
	if len(raw) > maxInjectBody {
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(raw), orig), orig}
		return nil
	}
	orig.Close()

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	body, err := decodeBody(encoding, raw)
	if err != nil {
		// Undecodable or oversized after decoding: pass the original through.
		resp.Body = io.NopCloser(bytes.NewReader(raw))
		return nil
	}

	modified := Inject(body, LauncherScript())
	resp.Body = io.NopCloser(bytes.NewReader(modified))
	resp.ContentLength = int64(len(modified))
	resp.Header.Set("Content-Length", strconv.Itoa(len(modified)))
	resp.Header.Del("Content-Encoding")
	return nil
}

var (
	errUnsupportedEncoding = errors.New("unsupported content encoding")
	errBodyTooLarge        = errors.New("decoded body exceeds injection limit")
)

// decodeBody undoes a single Content-Encoding.
func decodeBody(encoding string, raw []byte) ([]byte, error) {
	var r io.Reader
	switch encoding {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case "deflate":
		// Servers disagree on whether deflate carries the zlib wrapper.
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			body, err := readCapped(zr)
			zr.Close()
			if err == nil || errors.Is(err, errBodyTooLarge) {
				return body, err
			}
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		r = fr
	case "br":
		r = brotli.NewReader(bytes.NewReader(raw))
	case "zstd":
		dec, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedEncoding, encoding)
	}
	return readCapped(r)
}

// readCapped reads a decoded body, failing rather than truncating when it
// exceeds maxInjectBody.
func readCapped(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxInjectBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxInjectBody {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// stripCookieDomains removes the Domain attribute from every Set-Cookie so
// cookies set by the app bind to whatever host the browser used.
func stripCookieDomains(h http.Header) {
	cookies := h.Values("Set-Cookie")
	if len(cookies) == 0 {
		return
	}
	h.Del("Set-Cookie")
	for _, c := range cookies {
		h.Add("Set-Cookie", StripCookieDomain(c))
	}
}

// StripCookieDomain drops the Domain attribute from a Set-Cookie value.
func StripCookieDomain(cookie string) string {
	parts := strings.Split(cookie, ";")
	kept := parts[:0]
	for i, p := range parts {
		trimmed := strings.TrimSpace(p)
		if i > 0 {
			name, _, _ := strings.Cut(trimmed, "=")
			if strings.EqualFold(strings.TrimSpace(name), "domain") {
				continue
			}
		}
		if trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, "; ")
}

func (u *upstream) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	metrics.Proxied(http.StatusBadGateway)
	target := u.target().String()

	logger := pslog.Ctx(r.Context()).With("method", r.Method, "path", r.URL.Path, "target", target)

	// Provide helpful error message based on error type
	var userMsg string
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.Canceled):
		logger.Debug("proxy request canceled", "error", err)
		userMsg = fmt.Sprintf("Proxy Error: Request canceled. The client went away or the target server (%s) is unavailable.", target)
	case errors.Is(err, syscall.ECONNREFUSED):
		logger.Warn("app not reachable", "error", err)
		userMsg = fmt.Sprintf("Proxy Error: Cannot connect to target server %s. Make sure your development server is running.", target)
	case errors.As(err, &dnsErr):
		logger.Warn("cannot resolve app host", "error", err)
		userMsg = fmt.Sprintf("Proxy Error: Cannot resolve target host %s.", target)
	default:
		logger.Warn("proxy error", "error", err)
		userMsg = fmt.Sprintf("Proxy Error: %v (target: %s)", err, target)
	}

	http.Error(w, userMsg, http.StatusBadGateway)
}
