package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestDownloader_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("fake mp3 bytes"))
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client())
	body, contentType, err := d.Fetch(context.Background(), srv.URL+"/ep1.mp3")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != "fake mp3 bytes" {
		t.Errorf("body = %q", body)
	}
	if contentType != "audio/mpeg" {
		t.Errorf("contentType = %q", contentType)
	}
}

func TestDownloader_FailsFastOnNon2xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client())
	_, _, err := d.Fetch(context.Background(), srv.URL+"/missing.mp3")
	if err == nil {
		t.Fatal("expected an error for 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should name the status: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1 (no retry on non-2xx)", got)
	}
}

func TestDownloader_RetriesTransportErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 2 {
			// Slam the connection shut to force a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("response writer does not support hijacking")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte("eventually fine"))
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client())
	body, _, err := d.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != "eventually fine" {
		t.Errorf("body = %q", body)
	}
	if hits.Load() < 2 {
		t.Error("expected at least one retry")
	}
}
