// Package pack describes the single packaged bundle served by a share: its
// on-disk identity and the manifest document embedded in the archive.
package pack

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	ttl "github.com/FloatTech/ttl"
	"github.com/klauspost/compress/zip"
)

const (
	manifestName     = "manifest.json"
	maxManifestBytes = 1 << 20
	manifestCacheTTL = 5 * time.Minute
)

// ErrNoManifest means the package archive carries no manifest.json entry.
var ErrNoManifest = errors.New("package has no manifest")

// File identifies one served package on disk.
type File struct {
	Path string
	Name string
	Size int64
}

// Stat resolves a served package. The file must exist and be a regular
// file. displayName overrides the filename advertised to peers; when empty
// the base name of path is used.
func Stat(path, displayName string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat package: %w", err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("package %s is a directory", path)
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = filepath.Base(path)
	}
	return File{Path: path, Name: name, Size: info.Size()}, nil
}

// ManifestCache reads manifest.json out of package archives, holding
// extracted documents briefly so repeated preview requests do not reopen
// the archive.
type ManifestCache struct {
	cache *ttl.Cache[string, []byte]
}

// NewManifestCache returns a cache with a 5 minute entry lifetime.
func NewManifestCache() *ManifestCache {
	return &ManifestCache{cache: ttl.NewCache[string, []byte](manifestCacheTTL)}
}

// Manifest returns the embedded manifest.json of the package at path,
// reading through the cache.
func (m *ManifestCache) Manifest(path string) ([]byte, error) {
	if b := m.cache.Get(path); b != nil {
		return b, nil
	}
	b, err := readManifest(path)
	if err != nil {
		return nil, err
	}
	m.cache.Set(path, b)
	return b, nil
}

func readManifest(path string) ([]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if f.Name != manifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open manifest: %w", err)
		}
		b, err := io.ReadAll(io.LimitReader(rc, maxManifestBytes+1))
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		if len(b) > maxManifestBytes {
			return nil, fmt.Errorf("manifest exceeds %d bytes", maxManifestBytes)
		}
		return b, nil
	}
	return nil, ErrNoManifest
}
