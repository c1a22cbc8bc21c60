package transport

import (
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClientSetsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewClient(Options{Timeout: time.Second, UserAgent: "cctvnode-test"}, testLogger())
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got != "cctvnode-test" {
		t.Errorf("User-Agent = %q", got)
	}
}

func TestNewClientKeepsExplicitUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewClient(Options{Timeout: time.Second}, testLogger())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got != "custom" {
		t.Errorf("User-Agent = %q", got)
	}
}

func TestNewClientBadCAFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadCertPool(path); err == nil {
		t.Error("LoadCertPool should reject a file without certificates")
	}

	client := NewClient(Options{CAFile: path}, testLogger())
	tr := client.Transport.(*userAgentTransport).next.(*http.Transport)
	if tr.TLSClientConfig != nil {
		t.Error("TLS config should stay default when CA load fails")
	}
}

func TestNewClientTrustsTLSServerCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	cert := srv.Certificate()
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, pemEncode(cert.Raw), 0o644); err != nil {
		t.Fatal(err)
	}

	client := NewClient(Options{Timeout: 2 * time.Second, CAFile: path}, testLogger())
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request with custom CA failed: %v", err)
	}
	resp.Body.Close()
}

func pemEncode(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
