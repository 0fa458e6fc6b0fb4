package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestNormalizeContentType(t *testing.T) {
	cases := []struct {
		declared string
		data     []byte
		want     string
	}{
		{"image/png", nil, "image/png"},
		{"IMAGE/JPG; charset=binary", nil, "image/jpeg"},
		{"application/octet-stream", pngHeader, "image/png"},
		{"", []byte("\xff\xd8\xff\xe0\x00\x10JFIF"), "image/jpeg"},
		{"video/mp4", nil, "video/mp4"},
	}
	for _, tc := range cases {
		got, err := NormalizeContentType(tc.declared, tc.data)
		if err != nil {
			t.Errorf("NormalizeContentType(%q): %v", tc.declared, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeContentType(%q) = %q, want %q", tc.declared, got, tc.want)
		}
	}
	if _, err := NormalizeContentType("text/html", []byte("<html></html>")); err == nil {
		t.Error("expected html to be rejected")
	}
}

func TestExtensionFor(t *testing.T) {
	if got := ExtensionFor("image/jpeg"); got != "jpg" {
		t.Errorf("jpeg ext = %q", got)
	}
	if got := ExtensionFor("application/x-unknown"); got != "bin" {
		t.Errorf("unknown ext = %q", got)
	}
	if got := ContentTypeFor(".WEBP"); got != "image/webp" {
		t.Errorf("ContentTypeFor(.WEBP) = %q", got)
	}
}

func TestFetcher_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngHeader)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), 3, time.Millisecond, nil)
	data, ct, err := f.Fetch(context.Background(), srv.URL+"/result.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if ct != "image/png" || len(data) != len(pngHeader) {
		t.Errorf("got %q with %d bytes", ct, len(data))
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetcher_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), 3, time.Millisecond, nil)
	if _, _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestUploader_KeyLayout(t *testing.T) {
	u, err := NewUploader(Config{Region: "us-east-1", AccessKey: "a", SecretKey: "s", Bucket: "b", PublicBaseURL: "https://cdn.example.com/"})
	if err != nil {
		t.Fatal(err)
	}
	u.now = func() time.Time { return time.UnixMilli(1700000000123) }

	key := u.generateKey("user-1", "image/webp")
	pattern := regexp.MustCompile(`^user-images/user-1/1700000000123-[0-9a-f-]{36}\.webp$`)
	if !pattern.MatchString(key) {
		t.Errorf("key %q does not match %s", key, pattern)
	}
	if got := u.PublicURL(key); got != "https://cdn.example.com/"+key {
		t.Errorf("PublicURL = %q", got)
	}
}

func TestNewUploader_Validation(t *testing.T) {
	if _, err := NewUploader(Config{Region: "r", AccessKey: "a", SecretKey: "s", PublicBaseURL: "u"}); err == nil {
		t.Error("expected missing bucket error")
	}
	if _, err := NewUploader(Config{Bucket: "b", Region: "r", PublicBaseURL: "u"}); err == nil {
		t.Error("expected missing credentials error")
	}
}

func TestUploader_UploadAndDelete(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := NewUploader(Config{
		Endpoint: srv.URL, Region: "us-east-1", AccessKey: "a", SecretKey: "s",
		Bucket: "media", PublicBaseURL: "https://cdn.example.com", UsePathStyle: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	obj, err := u.Upload(context.Background(), "user-1", pngHeader, "image/png")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(obj.Key, "user-images/user-1/") || !strings.HasSuffix(obj.Key, ".png") {
		t.Errorf("unexpected key %q", obj.Key)
	}
	if err := u.Delete(context.Background(), obj.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "PUT /media/"+obj.Key || seen[1] != "DELETE /media/"+obj.Key {
		t.Errorf("requests = %v", seen)
	}
}
