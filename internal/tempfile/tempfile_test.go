package tempfile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestAcquireReleaseLifecycle(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	h, err := m.Acquire(RootUpload)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(h.Path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(h.Path); !os.IsNotExist(err) {
		t.Fatal("expected file to be removed after Release")
	}

	// Idempotent.
	if err := h.Release(); err != nil {
		t.Fatalf("second Release should be a no-op, got: %v", err)
	}
}

func TestDownloadToRejectsNonPNGContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m, _ := NewManager(dir)
	h, err := m.Acquire(RootURLDownload)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	err = DownloadTo(context.Background(), DefaultHTTPClient(), h, srv.URL)
	if err == nil {
		t.Fatal("expected content-type mismatch error")
	}
}

func TestDownloadToStreamsBody(t *testing.T) {
	payload := []byte("png-bytes-stand-in")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	m, _ := NewManager(dir)
	h, err := m.Acquire(RootURLDownload)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	if err := DownloadTo(context.Background(), DefaultHTTPClient(), h, srv.URL); err != nil {
		t.Fatalf("DownloadTo: %v", err)
	}

	got, err := h.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}
