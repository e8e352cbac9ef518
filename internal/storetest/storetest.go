// Package storetest runs an in-memory object store over httptest for tests.
package storetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/shatterbird/birdfs/pkg/models"
	"github.com/shatterbird/birdfs/pkg/protocol"
)

// Server is a fake object store. It records every request URI it serves.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	commits []*models.Commit
	nodes   map[string]*models.Node
	blobs   map[string][]byte
	calls   map[string]int
	total   int

	// FailNext makes the next n requests answer 503.
	FailNext int
	// Gzip compresses every response body.
	Gzip bool
	// Gate, when set, is received from before each response is written.
	Gate chan struct{}
}

// New starts an empty fake store.
func New() *Server {
	s := &Server{
		nodes: make(map[string]*models.Node),
		blobs: make(map[string][]byte),
		calls: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// AddCommit registers a commit whose tree starts at root.
func (s *Server) AddCommit(oid, root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, &models.Commit{
		ID:   models.ID{OID: "c-" + oid},
		OID:  oid,
		Root: models.ID{OID: root},
	})
}

// AddNode registers a full node.
func (s *Server) AddNode(n *models.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID.String()] = n
}

// AddBlob registers raw blob bytes.
func (s *Server) AddBlob(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = data
}

// Calls returns how many times uri (path plus query) was requested.
func (s *Server) Calls(uri string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[uri]
}

// Total returns the number of requests served.
func (s *Server) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.URL.RequestURI()]++
	s.total++
	fail := s.FailNext > 0
	if fail {
		s.FailNext--
	}
	gate := s.Gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := r.URL.Path
	switch {
	case path == protocol.CommitsPath:
		s.mu.Lock()
		commits := append([]*models.Commit{}, s.commits...)
		s.mu.Unlock()
		s.writeJSON(w, commits)

	case strings.HasPrefix(path, protocol.CommitsByOIDPath):
		oid := strings.TrimPrefix(path, protocol.CommitsByOIDPath)
		s.mu.Lock()
		var found *models.Commit
		for _, c := range s.commits {
			if c.OID == oid {
				found = c
			}
		}
		s.mu.Unlock()
		if found == nil {
			http.NotFound(w, r)
			return
		}
		s.writeJSON(w, found)

	case strings.HasPrefix(path, protocol.NodesPath):
		id := strings.TrimPrefix(path, protocol.NodesPath)
		s.mu.Lock()
		n, ok := s.nodes[id]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("short") == "true" {
			s.writeJSON(w, n.NodeInfo)
			return
		}
		s.writeJSON(w, n)

	case strings.HasPrefix(path, protocol.BlobsPath):
		id := strings.TrimPrefix(path, protocol.BlobsPath)
		s.mu.Lock()
		data, ok := s.blobs[id]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		s.write(w, "application/octet-stream", data)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.write(w, "application/json", data)
}

func (s *Server) write(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	if !s.Gzip {
		w.Write(data)
		return
	}
	w.Header().Set("Content-Encoding", "gzip")
	gw := gzip.NewWriter(w)
	gw.Write(data)
	gw.Close()
}

// Dir builds a directory node.
func Dir(id string, children map[string]models.NodeInfo) *models.Node {
	return &models.Node{
		NodeInfo: models.NodeInfo{ID: models.ID{OID: id}, Kind: models.KindDirectory},
		Content:  &models.Content{Directory: &models.DirectoryContent{Children: children}},
	}
}

// Text builds a text node from lines.
func Text(id string, lines ...string) *models.Node {
	tc := &models.TextContent{}
	for i, l := range lines {
		tc.Lines = append(tc.Lines, models.Line{ID: models.ID{OID: id + "-l" + strconv.Itoa(i)}, Text: l})
		tc.Size += uint64(len(l))
		if i > 0 {
			tc.Size++
		}
	}
	return &models.Node{
		NodeInfo: models.NodeInfo{ID: models.ID{OID: id}, Kind: models.KindText},
		Content:  &models.Content{Text: tc},
	}
}

// Blob builds a blob node referring to blobID.
func Blob(id, blobID string, size uint64) *models.Node {
	return &models.Node{
		NodeInfo: models.NodeInfo{ID: models.ID{OID: id}, Kind: models.KindBlob},
		Content:  &models.Content{Blob: &models.BlobContent{Size: size, Content: models.ID{OID: blobID}}},
	}
}

// Symlink builds a symlink node.
func Symlink(id, target string) *models.Node {
	return &models.Node{
		NodeInfo: models.NodeInfo{ID: models.ID{OID: id}, Kind: models.KindSymlink},
		Content:  &models.Content{Symlink: &models.SymlinkContent{Target: target}},
	}
}

// Info returns the short form of n.
func Info(n *models.Node) models.NodeInfo {
	return n.NodeInfo
}

// NewFixture starts a store holding one commit "abc" with this tree:
//
//	/abc/f.txt      text "hi"
//	/abc/lines.txt  text "a\nb\nc"
//	/abc/link       symlink "../x"
//	/abc/bin        blob "\x00\x01\x02"
//	/abc/src/       directory
//	/abc/src/main.go text "package main"
func NewFixture() *Server {
	s := New()

	f := Text("n-f", "hi")
	lines := Text("n-lines", "a", "b", "c")
	link := Symlink("n-link", "../x")
	bin := Blob("n-bin", "b-bin", 3)
	main := Text("n-main", "package main")
	src := Dir("n-src", map[string]models.NodeInfo{"main.go": Info(main)})
	root := Dir("n-root", map[string]models.NodeInfo{
		"f.txt":     Info(f),
		"lines.txt": Info(lines),
		"link":      Info(link),
		"bin":       Info(bin),
		"src":       Info(src),
	})

	for _, n := range []*models.Node{f, lines, link, bin, main, src, root} {
		s.AddNode(n)
	}
	s.AddBlob("b-bin", []byte{0, 1, 2})
	s.AddCommit("abc", "n-root")
	return s
}

// AddWorkspace adds commit oid whose tree carries editor and version control
// metadata as ordinary entries:
//
//	/{oid}/.vscode/settings.json  text "{}"
//	/{oid}/.git                   text "gitdir: ../x"
func (s *Server) AddWorkspace(oid string) {
	settings := Text(oid+"-settings", "{}")
	vscode := Dir(oid+"-vscode", map[string]models.NodeInfo{"settings.json": Info(settings)})
	git := Text(oid+"-git", "gitdir: ../x")
	root := Dir(oid+"-root", map[string]models.NodeInfo{
		".vscode": Info(vscode),
		".git":    Info(git),
	})
	for _, n := range []*models.Node{settings, vscode, git, root} {
		s.AddNode(n)
	}
	s.AddCommit(oid, oid+"-root")
}
