package webdav

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shatterbird/birdfs/internal/storetest"
	"github.com/shatterbird/birdfs/pkg/client"
	"github.com/shatterbird/birdfs/pkg/retry"
	"github.com/shatterbird/birdfs/pkg/vfs"
)

func testServer(t *testing.T) (*httptest.Server, *storetest.Server) {
	t.Helper()
	store := storetest.NewFixture()
	t.Cleanup(store.Close)
	c := client.New(client.Config{
		BaseURL:     store.URL,
		RetryConfig: retry.Config{MaxAttempts: 1, InitialWait: time.Millisecond},
	})
	ts := httptest.NewServer(NewHandler(vfs.New(c, vfs.Options{}), ""))
	t.Cleanup(ts.Close)
	return ts, store
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if method == "PROPFIND" {
		req.Header.Set("Depth", "1")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, string(data)
}

func TestGet_ReturnsFileBytes(t *testing.T) {
	ts, _ := testServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/abc/lines.txt", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body != "a\nb\nc" {
		t.Errorf("body = %q", body)
	}
	if resp.Header.Get("ETag") != `"n-lines"` {
		t.Errorf("ETag = %q", resp.Header.Get("ETag"))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("logging middleware not applied")
	}
}

func TestGet_Missing(t *testing.T) {
	ts, store := testServer(t)

	for _, p := range []string{"/abc/nope.txt", "/zzz/f.txt"} {
		resp, _ := do(t, http.MethodGet, ts.URL+p, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d", p, resp.StatusCode)
		}
	}

	before := store.Total()
	resp, _ := do(t, http.MethodGet, ts.URL+"/.git/HEAD", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("reserved path status = %d", resp.StatusCode)
	}
	if store.Total() != before {
		t.Error("reserved path reached the store")
	}
}

func TestGet_DotDirectoryInsideCommit(t *testing.T) {
	ts, store := testServer(t)
	store.AddWorkspace("ws")

	resp, body := do(t, http.MethodGet, ts.URL+"/ws/.vscode/settings.json", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body != "{}" {
		t.Errorf("body = %q", body)
	}

	resp, body = do(t, "PROPFIND", ts.URL+"/ws/", "")
	if resp.StatusCode != http.StatusMultiStatus {
		t.Fatalf("PROPFIND status = %d", resp.StatusCode)
	}
	for _, name := range []string{"/ws/.vscode/", "/ws/.git"} {
		if !strings.Contains(body, name) {
			t.Errorf("listing missing %s", name)
		}
	}
}

func TestPropfind_ListsDirectory(t *testing.T) {
	ts, _ := testServer(t)

	resp, body := do(t, "PROPFIND", ts.URL+"/abc/", "")
	if resp.StatusCode != http.StatusMultiStatus {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, name := range []string{"/abc/f.txt", "/abc/src/", "/abc/link"} {
		if !strings.Contains(body, name) {
			t.Errorf("listing missing %s", name)
		}
	}
}

func TestWritesRefused(t *testing.T) {
	ts, store := testServer(t)

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPut, "/abc/new.txt", "data"},
		{http.MethodPut, "/abc/f.txt", "overwrite"},
		{"MKCOL", "/abc/newdir", ""},
		{http.MethodDelete, "/abc/f.txt", ""},
	}
	for _, tt := range tests {
		resp, _ := do(t, tt.method, ts.URL+tt.path, tt.body)
		if resp.StatusCode < 400 {
			t.Errorf("%s %s status = %d, want refusal", tt.method, tt.path, resp.StatusCode)
		}
	}

	_, body := do(t, http.MethodGet, ts.URL+"/abc/f.txt", "")
	if body != "hi" {
		t.Errorf("content changed to %q", body)
	}
	if store.Calls("/fs/nodes/n-f") == 0 {
		t.Error("GET did not fetch the file node")
	}
}
