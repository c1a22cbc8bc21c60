// Package transport builds the HTTP clients used to reach camera upstreams
// and the analysis service.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/smazurov/cctvnode/internal/logging"
)

// DefaultUserAgent mimics a desktop browser; several CCTV portals refuse
// requests without one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Options configures NewClient.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// CAFile is an optional PEM bundle appended to the system roots.
	CAFile          string
	MaxConnsPerHost int
}

// NewClient returns a client with a bounded keep-alive pool. A CA file that
// cannot be loaded is logged and ignored so capture keeps working for
// upstreams with publicly trusted certificates.
func NewClient(opts Options, logger logging.Logger) *http.Client {
	perHost := opts.MaxConnsPerHost
	if perHost <= 0 {
		perHost = 10
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          perHost * 4,
		MaxIdleConnsPerHost:   perHost,
		MaxConnsPerHost:       perHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	if opts.CAFile != "" {
		pool, err := LoadCertPool(opts.CAFile)
		if err != nil {
			logger.Warn("Custom CA not loaded, using system roots", "path", opts.CAFile, "error", err)
		} else {
			tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
			logger.Info("Custom CA loaded", "path", opts.CAFile)
		}
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &userAgentTransport{next: tr, userAgent: ua},
	}
}

// LoadCertPool returns the system pool extended with the PEM certificates in path.
func LoadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(clone)
}
