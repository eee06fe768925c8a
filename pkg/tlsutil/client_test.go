package tlsutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNormalizeFingerprint(t *testing.T) {
	got := NormalizeFingerprint(" AB:cd:EF 01 ")
	if got != "abcdef01" {
		t.Fatalf("NormalizeFingerprint = %q, want abcdef01", got)
	}
}

func TestNewHTTPClientDefaults(t *testing.T) {
	client := NewHTTPClient(ClientOptions{})
	if client.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %s", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.TLSClientConfig.InsecureSkipVerify {
		t.Fatal("expected certificate verification by default")
	}
}

func TestNewHTTPClientRefusesRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer redirector.Close()

	client := NewHTTPClient(ClientOptions{Timeout: 5 * time.Second})
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, redirector.URL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := client.Do(req)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected redirect to be refused")
	}
}

func TestFingerprintPinning(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sum := sha256.Sum256(server.Certificate().Raw)
	pinned := NewHTTPClient(ClientOptions{Timeout: 5 * time.Second, Fingerprint: hex.EncodeToString(sum[:])})
	resp, err := pinned.Get(server.URL)
	if err != nil {
		t.Fatalf("expected pinned request to succeed: %v", err)
	}
	resp.Body.Close()

	wrong := NewHTTPClient(ClientOptions{Timeout: 5 * time.Second, Fingerprint: "00"})
	if resp, err := wrong.Get(server.URL); err == nil {
		resp.Body.Close()
		t.Fatal("expected fingerprint mismatch to fail")
	}
}
