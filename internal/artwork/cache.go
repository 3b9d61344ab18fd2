// ABOUTME: Cover art cache for received artwork images
// ABOUTME: Sniffs the image type and saves each distinct image to a temp directory
package artwork

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/h2non/filetype"
)

// ErrNotImage is returned for artwork that is not a recognized image format
var ErrNotImage = errors.New("artwork is not an image")

// Cache stores cover art on disk, keyed by content hash
type Cache struct {
	cacheDir string

	mu          sync.RWMutex
	currentPath string
	currentMIME string
}

// NewCache creates a cache in dir, or in a temp directory when dir is empty
func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "airstream-artwork")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Cache{cacheDir: dir}, nil
}

// Store saves data and makes it the current artwork. Empty data clears the
// current artwork.
func (c *Cache) Store(data []byte) (string, error) {
	if len(data) == 0 {
		c.setCurrent("", "")
		return "", nil
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || !filetype.IsImage(data) {
		return "", ErrNotImage
	}

	hash := sha256.Sum256(data)
	filename := fmt.Sprintf("%x.%s", hash[:8], kind.Extension)
	cachePath := filepath.Join(c.cacheDir, filename)

	if _, err := os.Stat(cachePath); err == nil {
		log.Printf("Artwork cache hit: %s", cachePath)
		c.setCurrent(cachePath, kind.MIME.Value)
		return cachePath, nil
	}

	if err := os.WriteFile(cachePath, data, 0644); err != nil {
		os.Remove(cachePath)
		return "", fmt.Errorf("failed to save artwork: %w", err)
	}

	log.Printf("Artwork saved: %s (%s)", cachePath, kind.MIME.Value)
	c.setCurrent(cachePath, kind.MIME.Value)
	return cachePath, nil
}

func (c *Cache) setCurrent(path, mime string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentPath = path
	c.currentMIME = mime
}

// CurrentPath returns the path to the current artwork
func (c *Cache) CurrentPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentPath
}

// Current returns the path and MIME type of the current artwork
func (c *Cache) Current() (path, mime string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentPath, c.currentMIME
}

// ContentType sniffs the MIME type of image data
func ContentType(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}

// Cleanup removes cached artwork
func (c *Cache) Cleanup() error {
	c.setCurrent("", "")
	return os.RemoveAll(c.cacheDir)
}
