package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/OpticalFlyer/tilestream/log"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

type cacheEntry struct {
	URL     string
	Fetched time.Time
	Data    []byte
}

// DiskCache stores fetched payloads under a directory, one zstd-compressed
// msgpack file per URL. Only successful fetches are cached.
type DiskCache struct {
	next Fetcher
	dir  string
	ttl  time.Duration
	lg   *log.Logger
}

// NewDiskCache wraps next with a cache rooted at dir. An empty dir selects
// a tilestream directory under the user cache dir. Entries older than ttl
// are refetched; ttl 0 keeps entries until culled.
func NewDiskCache(next Fetcher, dir string, ttl time.Duration, lg *log.Logger) (*DiskCache, error) {
	if dir == "" {
		cd, err := os.UserCacheDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(cd, "tilestream")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskCache{next: next, dir: dir, ttl: ttl, lg: lg}, nil
}

func (c *DiskCache) path(u string) string {
	h := sha256.Sum256([]byte(u))
	name := hex.EncodeToString(h[:])
	return filepath.Join(c.dir, name[:2], name)
}

func (c *DiskCache) Get(ctx context.Context, u string) ([]byte, error) {
	if e, err := c.load(u); err == nil && e.URL == u && (c.ttl == 0 || time.Since(e.Fetched) < c.ttl) {
		return e.Data, nil
	}

	b, err := c.next.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	if err := c.store(cacheEntry{URL: u, Fetched: time.Now(), Data: b}); err != nil {
		c.lg.Warnf("%s: caching: %v", u, err)
	}
	return b, nil
}

func (c *DiskCache) load(u string) (cacheEntry, error) {
	var e cacheEntry
	f, err := os.Open(c.path(u))
	if err != nil {
		return e, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return e, err
	}
	defer zr.Close()

	return e, msgpack.NewDecoder(zr).Decode(&e)
}

func (c *DiskCache) store(e cacheEntry) error {
	path := c.path(e.URL)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	// Write to a temporary file and rename so concurrent readers never see
	// a partial entry.
	f, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close()
		return err
	}
	if err := msgpack.NewEncoder(zw).Encode(e); err != nil {
		zw.Close()
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Cull removes the oldest entries until the cache holds at most maxBytes.
func (c *DiskCache) Cull(maxBytes int64) error {
	type fileInfo struct {
		path    string
		size    int64
		modTime time.Time
	}
	var files []fileInfo
	var totalSize int64

	err := filepath.Walk(c.dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, fileInfo{path: path, size: info.Size(), modTime: info.ModTime()})
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		return err
	}

	slices.SortFunc(files, func(a, b fileInfo) int {
		return a.modTime.Compare(b.modTime)
	})

	for len(files) > 0 && totalSize > maxBytes {
		f := files[0]
		if err := os.Remove(f.path); err == nil {
			totalSize -= f.size
		}
		files = files[1:]
	}
	c.lg.Debugf("disk cache culled to %d bytes", totalSize)
	return nil
}
