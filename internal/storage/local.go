package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// LocalStorage lays out downloaded assets on disk, addressed by a hash of
// their source URL so re-downloads land on the same file.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a LocalStorage rooted at dir.
func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: root}
}

// Root returns the storage root directory.
func (s *LocalStorage) Root() string {
	return s.root
}

// KeyFor returns the relative key <owner>/<sha1[:2]>/<sha1>.<ext> for a source URL.
func (s *LocalStorage) KeyFor(owner, sourceURL string) string {
	sum := sha1.Sum([]byte(sourceURL))
	hash := hex.EncodeToString(sum[:])
	return path.Join(owner, hash[:2], hash+"."+extensionOf(sourceURL))
}

// PathFor returns the absolute destination path for a source URL.
func (s *LocalStorage) PathFor(owner, sourceURL string) string {
	return filepath.Join(s.root, filepath.FromSlash(s.KeyFor(owner, sourceURL)))
}

func extensionOf(sourceURL string) string {
	p := sourceURL
	if u, err := url.Parse(sourceURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	switch ext {
	case "jpeg", "jpg":
		return "jpg"
	case "png", "gif", "webp":
		return ext
	default:
		return "jpg"
	}
}

// ContentType maps a file extension to its MIME type.
func ContentType(filename string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
