package hub

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveFilesParsesSiblings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/models/org/model" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"siblings":[
			{"rfilename":"config.json","size":120},
			{"rfilename":"weights.gguf","lfs":{"size":4096}}
		]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	files, err := c.ResolveFiles(context.Background(), "org/model")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].Name != "config.json" || files[0].Size != 120 {
		t.Fatalf("unexpected file: %+v", files[0])
	}
	if files[1].Name != "weights.gguf" || files[1].Size != 4096 {
		t.Fatalf("lfs size not preferred: %+v", files[1])
	}
}

func TestResolveFilesInvalidRepoID(t *testing.T) {
	c := New("http://unused", "")
	for _, id := range []string{"", "noslash", "a/b/c", "/x", "x/"} {
		if _, err := c.ResolveFiles(context.Background(), id); err == nil {
			t.Fatalf("expected error for repo id %q", id)
		}
	}
}

func TestAuthErrorDistinction(t *testing.T) {
	status := http.StatusForbidden
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	// 403 without a token: the user needs credentials.
	c := New(srv.URL, "")
	_, err := c.ResolveFiles(context.Background(), "org/model")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	// 403 with a token: the access request is pending.
	c = New(srv.URL, "hf_sometoken")
	_, err = c.ResolveFiles(context.Background(), "org/model")
	if !errors.Is(err, ErrAccessPending) {
		t.Fatalf("expected access pending, got %v", err)
	}

	status = http.StatusUnauthorized
	c = New(srv.URL, "hf_sometoken")
	_, err = c.ResolveFiles(context.Background(), "org/model")
	if !IsAuthError(err) {
		t.Fatalf("expected auth error for 401, got %v", err)
	}

	status = http.StatusNotFound
	_, err = c.ResolveFiles(context.Background(), "org/model")
	if IsAuthError(err) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFetchFullAndResumed(t *testing.T) {
	payload := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng == "bytes=4-" {
			w.Header().Set("Content-Range", "bytes 4-9/10")
			w.WriteHeader(http.StatusPartialContent)
			w.Write(payload[4:])
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	content, err := c.Fetch(context.Background(), "org/model", "weights.gguf", 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer content.Body.Close()
	if content.TotalSize != 10 || content.Resumed {
		t.Fatalf("unexpected content meta: %+v", content)
	}
	b, _ := io.ReadAll(content.Body)
	if string(b) != "0123456789" {
		t.Fatalf("unexpected body %q", b)
	}

	content, err = c.Fetch(context.Background(), "org/model", "weights.gguf", 4)
	if err != nil {
		t.Fatalf("resumed fetch: %v", err)
	}
	defer content.Body.Close()
	if !content.Resumed {
		t.Fatalf("expected resumed transfer")
	}
	if content.TotalSize != 10 {
		t.Fatalf("expected total 10 (offset + remainder), got %d", content.TotalSize)
	}
	b, _ = io.ReadAll(content.Body)
	if string(b) != "456789" {
		t.Fatalf("unexpected resumed body %q", b)
	}
}

// A server that ignores Range must yield Resumed=false so the caller restarts.
func TestFetchRangeIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "full-content")
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	content, err := c.Fetch(context.Background(), "org/model", "f", 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer content.Body.Close()
	if content.Resumed {
		t.Fatalf("expected Resumed=false when server ignores Range")
	}
}
