package vfs

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"sort"
	"testing"
	"time"

	"github.com/shatterbird/birdfs/internal/storetest"
	"github.com/shatterbird/birdfs/pkg/client"
	"github.com/shatterbird/birdfs/pkg/models"
	"github.com/shatterbird/birdfs/pkg/retry"
)

func testFS(t *testing.T, s *storetest.Server, opts Options) *FS {
	t.Helper()
	t.Cleanup(s.Close)
	c := client.New(client.Config{
		BaseURL: s.URL,
		RetryConfig: retry.Config{
			MaxAttempts: 2,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	return New(c, opts)
}

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}

func TestReadDir_VirtualRootListsCommits(t *testing.T) {
	s := storetest.NewFixture()
	s.AddCommit("def", "n-src")
	fsys := testFS(t, s, Options{})

	children, err := fsys.ReadDir(context.Background(), "/")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	got := names(children)
	if len(got) != 2 || got[0] != "abc" || got[1] != "def" {
		t.Fatalf("children = %v", got)
	}
	for _, c := range children {
		if c.Kind() != KindRepoRoot {
			t.Errorf("%s: kind = %v", c.Name(), c.Kind())
		}
	}
}

func TestReadDir_RepoRootListsTreeChildren(t *testing.T) {
	fsys := testFS(t, storetest.NewFixture(), Options{})

	children, err := fsys.ReadDir(context.Background(), "/abc")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	got := names(children)
	sort.Strings(got)
	want := []string{"bin", "f.txt", "lines.txt", "link", "src"}
	if len(got) != len(want) {
		t.Fatalf("children = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("children = %v, want %v", got, want)
		}
	}

	kinds := map[string]Kind{}
	for _, c := range children {
		kinds[c.Name()] = c.Kind()
	}
	if kinds["src"] != KindDirectory {
		t.Errorf("src kind = %v", kinds["src"])
	}
	for _, f := range []string{"bin", "f.txt", "lines.txt", "link"} {
		if kinds[f] != KindFile {
			t.Errorf("%s kind = %v", f, kinds[f])
		}
	}
}

func TestResolve_EndToEnd(t *testing.T) {
	s := storetest.New()
	s.AddNode(storetest.Text("T", "hi"))
	s.AddNode(storetest.Dir("R", map[string]models.NodeInfo{
		"f.txt": {ID: models.ID{OID: "T"}, Kind: models.KindText},
	}))
	s.AddCommit("abc", "R")
	fsys := testFS(t, s, Options{})
	ctx := context.Background()

	n, err := fsys.Resolve(ctx, "/abc/f.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n.Kind() != KindFile {
		t.Fatalf("kind = %v", n.Kind())
	}
	data, err := n.ReadContent(ctx)
	if err != nil {
		t.Fatalf("ReadContent: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("content = %q", data)
	}
}

func TestResolve_Root(t *testing.T) {
	s := storetest.NewFixture()
	fsys := testFS(t, s, Options{})

	for _, p := range []string{"/", "", "//"} {
		n, err := fsys.Resolve(context.Background(), p)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", p, err)
		}
		if n.Kind() != KindVirtualRoot {
			t.Errorf("Resolve(%q) kind = %v", p, n.Kind())
		}
	}
	if s.Total() != 0 {
		t.Errorf("resolving the root made %d requests", s.Total())
	}
}

func TestResolve_EmptySegmentsIgnored(t *testing.T) {
	fsys := testFS(t, storetest.NewFixture(), Options{})

	n, err := fsys.Resolve(context.Background(), "//abc///src//main.go/")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n.Name() != "main.go" {
		t.Errorf("name = %q", n.Name())
	}
}

func TestResolve_ReservedNamesMakeNoRequests(t *testing.T) {
	paths := []string{
		"/.git",
		"/.git/HEAD",
		"/.vscode/settings.json",
		"//.idea/",
		"/.hg",
		"/.svn",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			s := storetest.NewFixture()
			fsys := testFS(t, s, Options{})

			_, err := fsys.Resolve(context.Background(), p)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if s.Total() != 0 {
				t.Errorf("made %d requests", s.Total())
			}
		})
	}
}

func TestResolve_ReservedNamesBelowCommitAreEntries(t *testing.T) {
	s := storetest.New()
	s.AddWorkspace("ws")
	fsys := testFS(t, s, Options{})
	ctx := context.Background()

	children, err := fsys.ReadDir(ctx, "/ws")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if got := names(children); len(got) != 2 || got[0] != ".git" || got[1] != ".vscode" {
		t.Fatalf("children = %v", got)
	}

	data, err := fsys.ReadFile(ctx, "/ws/.vscode/settings.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("content = %q", data)
	}

	if _, err := fsys.ReadFile(ctx, "/ws/.git"); err != nil {
		t.Errorf("ReadFile(.git): %v", err)
	}
	if _, err := fsys.Resolve(ctx, "/ws/.vscode/.idea"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing nested name: got %v", err)
	}
}

func TestNode_Hides(t *testing.T) {
	s := storetest.NewFixture()
	fsys := testFS(t, s, Options{})

	if !fsys.Root().Hides(".git") {
		t.Error("virtual root should hide .git")
	}
	if fsys.Root().Hides("abc") {
		t.Error("virtual root hides a commit oid")
	}
	repo, err := fsys.Resolve(context.Background(), "/abc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if repo.Hides(".vscode") {
		t.Error("repo root should not hide .vscode")
	}
}

func TestResolve_StopsAtInvalidSegment(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    error
		touched []string
	}{
		{
			name:    "unknown commit",
			path:    "/nope/src/main.go",
			want:    ErrNotFound,
			touched: []string{"/fs/commits/by-oid/nope"},
		},
		{
			name:    "missing child",
			path:    "/abc/missing/src/main.go",
			want:    ErrNotFound,
			touched: []string{"/fs/commits/by-oid/abc", "/fs/nodes/n-root"},
		},
		{
			name:    "missing grandchild",
			path:    "/abc/src/missing/main.go",
			want:    ErrNotFound,
			touched: []string{"/fs/commits/by-oid/abc", "/fs/nodes/n-root", "/fs/nodes/n-src"},
		},
		{
			name:    "through a file",
			path:    "/abc/f.txt/main.go/x",
			want:    ErrNotADirectory,
			touched: []string{"/fs/commits/by-oid/abc", "/fs/nodes/n-root"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := storetest.NewFixture()
			fsys := testFS(t, s, Options{})

			_, err := fsys.Resolve(context.Background(), tt.path)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var pe *fs.PathError
			if !errors.As(err, &pe) || pe.Path != tt.path {
				t.Errorf("expected *fs.PathError for %q, got %#v", tt.path, err)
			}
			for _, uri := range tt.touched {
				if s.Calls(uri) != 1 {
					t.Errorf("%s requested %d times", uri, s.Calls(uri))
				}
			}
			if s.Total() != len(tt.touched) {
				t.Errorf("made %d requests, want %d", s.Total(), len(tt.touched))
			}
		})
	}
}

func TestReadFile_Variants(t *testing.T) {
	fsys := testFS(t, storetest.NewFixture(), Options{})

	tests := []struct {
		path string
		want string
	}{
		{"/abc/f.txt", "hi"},
		{"/abc/lines.txt", "a\nb\nc"},
		{"/abc/link", "../x"},
		{"/abc/bin", "\x00\x01\x02"},
		{"/abc/src/main.go", "package main"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			data, err := fsys.ReadFile(context.Background(), tt.path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("content = %q, want %q", data, tt.want)
			}
		})
	}
}

func TestReadFile_Directory(t *testing.T) {
	fsys := testFS(t, storetest.NewFixture(), Options{})

	for _, p := range []string{"/", "/abc", "/abc/src"} {
		_, err := fsys.ReadFile(context.Background(), p)
		if !errors.Is(err, ErrIsADirectory) {
			t.Errorf("ReadFile(%q): expected ErrIsADirectory, got %v", p, err)
		}
	}
}

func TestReadFile_UnknownContentIsUnavailable(t *testing.T) {
	s := storetest.NewFixture()
	var content models.Content
	if err := json.Unmarshal([]byte(`{"Submodule":{"url":"x"}}`), &content); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	s.AddNode(&models.Node{
		NodeInfo: models.NodeInfo{ID: models.ID{OID: "n-odd"}, Kind: "Submodule"},
		Content:  &content,
	})
	s.AddNode(storetest.Dir("n-odd-root", map[string]models.NodeInfo{
		"odd": {ID: models.ID{OID: "n-odd"}, Kind: "Submodule"},
	}))
	s.AddCommit("odd", "n-odd-root")
	fsys := testFS(t, s, Options{})

	_, err := fsys.ReadFile(context.Background(), "/odd/odd")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestReadFile_DirectoryContentUnderFileName(t *testing.T) {
	s := storetest.NewFixture()
	s.AddNode(storetest.Dir("n-liar-root", map[string]models.NodeInfo{
		"looks-like-file": {ID: models.ID{OID: "n-src"}, Kind: models.KindText},
		"looks-like-dir":  {ID: models.ID{OID: "n-f"}, Kind: models.KindDirectory},
	}))
	s.AddCommit("liar", "n-liar-root")
	fsys := testFS(t, s, Options{})
	ctx := context.Background()

	if _, err := fsys.ReadFile(ctx, "/liar/looks-like-file"); !errors.Is(err, ErrIsADirectory) {
		t.Errorf("expected ErrIsADirectory, got %v", err)
	}
	if _, err := fsys.ReadDir(ctx, "/liar/looks-like-dir"); !errors.Is(err, ErrNotADirectory) {
		t.Errorf("expected ErrNotADirectory, got %v", err)
	}
}

func TestReadFile_MissingBlob(t *testing.T) {
	s := storetest.NewFixture()
	s.AddNode(storetest.Blob("n-gone", "b-gone", 10))
	s.AddNode(storetest.Dir("n-gone-root", map[string]models.NodeInfo{
		"gone": {ID: models.ID{OID: "n-gone"}, Kind: models.KindBlob},
	}))
	s.AddCommit("gone", "n-gone-root")
	fsys := testFS(t, s, Options{})

	_, err := fsys.ReadFile(context.Background(), "/gone/gone")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStat_ParityAndReportSizes(t *testing.T) {
	ctx := context.Background()

	s := storetest.NewFixture()
	fsys := testFS(t, s, Options{})
	fi, err := fsys.Stat(ctx, "/abc/lines.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() != 0 || !fi.ModTime().IsZero() || fi.IsDir() || fi.Mode() != 0444 {
		t.Errorf("parity stat = size %d, mode %v, dir %v", fi.Size(), fi.Mode(), fi.IsDir())
	}
	if s.Calls("/fs/nodes/n-lines") != 0 {
		t.Error("parity stat fetched the file node")
	}

	sized := testFS(t, storetest.NewFixture(), Options{ReportSizes: true})
	for path, want := range map[string]int64{
		"/abc/lines.txt": 5,
		"/abc/bin":       3,
		"/abc/link":      4,
	} {
		fi, err := sized.Stat(ctx, path)
		if err != nil {
			t.Fatalf("Stat(%s): %v", path, err)
		}
		if fi.Size() != want {
			t.Errorf("Stat(%s).Size() = %d, want %d", path, fi.Size(), want)
		}
	}

	dir, err := sized.Stat(ctx, "/abc/src")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !dir.IsDir() || dir.Mode() != fs.ModeDir|0555 {
		t.Errorf("dir mode = %v", dir.Mode())
	}
}

func TestMutatorsAreReadOnly(t *testing.T) {
	s := storetest.NewFixture()
	fsys := testFS(t, s, Options{})
	ctx := context.Background()

	ops := map[string]func() error{
		"create": func() error { return fsys.CreateDirectory(ctx, "/abc/new") },
		"write":  func() error { return fsys.WriteFile(ctx, "/abc/f.txt", []byte("x")) },
		"delete": func() error { return fsys.Delete(ctx, "/abc/f.txt") },
		"rename": func() error { return fsys.Rename(ctx, "/abc/f.txt", "/abc/g.txt") },
		"copy":   func() error { return fsys.Copy(ctx, "/abc/f.txt", "/abc/g.txt") },
	}
	for name, op := range ops {
		err := op()
		if !errors.Is(err, ErrReadOnly) {
			t.Errorf("%s: expected ErrReadOnly, got %v", name, err)
		}
		if !errors.Is(err, fs.ErrPermission) {
			t.Errorf("%s: expected fs.ErrPermission match", name)
		}
	}
	if s.Total() != 0 {
		t.Errorf("mutators made %d requests", s.Total())
	}
}

func TestResolve_StoreUnavailable(t *testing.T) {
	s := storetest.NewFixture()
	s.FailNext = 5
	fsys := testFS(t, s, Options{})

	_, err := fsys.Resolve(context.Background(), "/abc")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	var herr *client.HTTPError
	if !errors.As(err, &herr) {
		t.Errorf("underlying HTTP error lost: %v", err)
	}
}

func TestResolve_Cancelled(t *testing.T) {
	fsys := testFS(t, storetest.NewFixture(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fsys.Resolve(ctx, "/abc/f.txt")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSplit(t *testing.T) {
	tests := map[string]int{
		"":               0,
		"/":              0,
		"/abc":           1,
		"abc/def":        2,
		"//abc//def///":  2,
		"/a/b/c/d/e/f/g": 7,
	}
	for in, want := range tests {
		if got := len(Split(in)); got != want {
			t.Errorf("Split(%q) has %d segments, want %d", in, got, want)
		}
	}
}
