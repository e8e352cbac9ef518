// Package protocol defines the object store and language server HTTP contract.
package protocol

import (
	"net/url"
	"strings"

	"github.com/shatterbird/birdfs/pkg/models"
)

// Object store routes, relative to the server base URL.
const (
	CommitsPath      = "/fs/commits"
	CommitsByOIDPath = "/fs/commits/by-oid/"
	NodesPath        = "/fs/nodes/"
	BlobsPath        = "/fs/blobs/"

	// LSPPrefix is where each language server method is exposed as
	// POST {LSPPrefix}{method}.
	LSPPrefix = "/api/lsp/"
)

// CommitByOID returns the route for GET /fs/commits/by-oid/{oid}.
func CommitByOID(oid string) string {
	return CommitsByOIDPath + url.PathEscape(oid)
}

// Node returns the route for GET /fs/nodes/{id}, with ?short=true when short.
func Node(id models.ID, short bool) string {
	p := NodesPath + url.PathEscape(id.String())
	if short {
		p += "?short=true"
	}
	return p
}

// Blob returns the route for GET /fs/blobs/{id}.
func Blob(id models.ID) string {
	return BlobsPath + url.PathEscape(id.String())
}

// LSPMethod returns the route for a language server method. Methods such as
// "textDocument/hover" keep their slash so each part is a path segment.
func LSPMethod(method string) string {
	parts := strings.Split(method, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return LSPPrefix + strings.Join(parts, "/")
}
