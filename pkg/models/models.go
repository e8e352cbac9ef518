// Package models mirrors the object store's wire types.
//
// Field names and tagged-union discriminants match the store's JSON exactly;
// do not rename them.
package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ID is a database object id, encoded as {"$oid": "<hex>"}.
type ID struct {
	OID string `json:"$oid"`
}

// String returns the hex form of the id.
func (id ID) String() string {
	return id.OID
}

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool {
	return id.OID == ""
}

// Commit is a snapshot of a repository tree imported from version control.
type Commit struct {
	ID      ID     `json:"_id"`
	OID     string `json:"oid"`
	Root    ID     `json:"root"`
	Parents []ID   `json:"parents"`
}

// ContentKind is the discriminant of a node's content.
type ContentKind string

const (
	KindSymlink   ContentKind = "Symlink"
	KindDirectory ContentKind = "Directory"
	KindText      ContentKind = "Text"
	KindBlob      ContentKind = "Blob"
)

// NodeInfo is the short form of a node: id and kind only.
type NodeInfo struct {
	ID   ID          `json:"_id"`
	Kind ContentKind `json:"kind"`
}

// Line is a single line of a text file.
type Line struct {
	ID   ID     `json:"_id"`
	Text string `json:"text"`
}

// SymlinkContent holds a symbolic link target.
type SymlinkContent struct {
	Target string `json:"target"`
}

// DirectoryContent maps child names to their short node form.
type DirectoryContent struct {
	Children map[string]NodeInfo `json:"children"`
}

// Names returns the child names in sorted order.
func (d *DirectoryContent) Names() []string {
	names := make([]string, 0, len(d.Children))
	for name := range d.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TextContent is a file split into lines.
type TextContent struct {
	Size  uint64 `json:"size"`
	Lines []Line `json:"lines"`
}

// BlobContent is a file stored as raw bytes under a separate id.
type BlobContent struct {
	Size    uint64 `json:"size"`
	Content ID     `json:"content"`
}

// Content is the externally tagged content union. Exactly one variant is
// set for known tags; for an unrecognised tag all variants are nil and
// Tag reports the name the store sent.
type Content struct {
	Symlink   *SymlinkContent
	Directory *DirectoryContent
	Text      *TextContent
	Blob      *BlobContent

	tag string
}

// Tag returns the variant name as sent on the wire.
func (c *Content) Tag() string {
	return c.tag
}

// Kind returns the variant kind, or "" if the tag is not recognised.
func (c *Content) Kind() ContentKind {
	switch {
	case c.Symlink != nil:
		return KindSymlink
	case c.Directory != nil:
		return KindDirectory
	case c.Text != nil:
		return KindText
	case c.Blob != nil:
		return KindBlob
	}
	return ""
}

// Size returns the byte size carried by file variants and 0 otherwise.
func (c *Content) Size() uint64 {
	switch {
	case c.Text != nil:
		return c.Text.Size
	case c.Blob != nil:
		return c.Blob.Size
	case c.Symlink != nil:
		return uint64(len(c.Symlink.Target))
	}
	return 0
}

// UnmarshalJSON decodes {"<Tag>": {...}}.
func (c *Content) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode content: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("decode content: expected one variant, got %d", len(raw))
	}

	*c = Content{}
	for tag, body := range raw {
		c.tag = tag
		var target any
		switch ContentKind(tag) {
		case KindSymlink:
			c.Symlink = &SymlinkContent{}
			target = c.Symlink
		case KindDirectory:
			c.Directory = &DirectoryContent{}
			target = c.Directory
		case KindText:
			c.Text = &TextContent{}
			target = c.Text
		case KindBlob:
			c.Blob = &BlobContent{}
			target = c.Blob
		default:
			return nil
		}
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("decode %s content: %w", tag, err)
		}
	}
	return nil
}

// MarshalJSON encodes the set variant under its tag.
func (c Content) MarshalJSON() ([]byte, error) {
	var body any
	switch c.Kind() {
	case KindSymlink:
		body = c.Symlink
	case KindDirectory:
		body = c.Directory
	case KindText:
		body = c.Text
	case KindBlob:
		body = c.Blob
	default:
		if c.tag == "" {
			return nil, fmt.Errorf("encode content: no variant set")
		}
		body = struct{}{}
	}
	tag := c.tag
	if tag == "" {
		tag = string(c.Kind())
	}
	return json.Marshal(map[string]any{tag: body})
}

// Node is a node as held by the client. Short responses decode with a nil
// Content; full responses carry it.
type Node struct {
	NodeInfo
	Content *Content `json:"content,omitempty"`
}

// Full reports whether the node carries its content.
func (n *Node) Full() bool {
	return n != nil && n.Content != nil
}
