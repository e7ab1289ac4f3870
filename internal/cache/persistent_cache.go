package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"terra-imagery/internal/gibs"
)

// TileCache is a disk-backed cache for dated GIBS tiles. Entries survive
// restarts through a JSON metadata index and are evicted by LRU when the
// size cap is exceeded and by TTL in the background.
type TileCache struct {
	baseDir   string
	maxSize   int64 // bytes
	currSize  int64 // atomic
	ttl       time.Duration
	mu        sync.RWMutex
	metadata  map[string]*TileMetadata
	evictChan chan struct{}
	done      chan struct{}
}

// TileMetadata describes one cached tile
type TileMetadata struct {
	Key        string    `json:"key"`
	Layer      string    `json:"layer"`
	Resolution string    `json:"resolution"`
	Z          int       `json:"z"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Date       string    `json:"date"`
	Ext        string    `json:"ext"`
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"accessTime"`
	CreateTime time.Time `json:"createTime"`
}

const indexFile = "cache_index.json"

// NewTileCache creates a tile cache rooted at baseDir.
// Layout: baseDir/{layer}/{resolution}/{z}/{x}/{y}_{date}.{ext}
func NewTileCache(baseDir string, maxSizeMB int, ttlDays int) (*TileCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cache := &TileCache{
		baseDir:   baseDir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		ttl:       time.Duration(ttlDays) * 24 * time.Hour,
		metadata:  make(map[string]*TileMetadata),
		evictChan: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	if err := cache.loadMetadata(); err != nil {
		// Index missing or corrupt, rebuild from the files on disk
		if err := cache.rebuildMetadata(); err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
	}

	go cache.maintenanceWorker()

	return cache, nil
}

// Key builds the cache key for a tile request
func Key(req gibs.TileRequest) string {
	return fmt.Sprintf("%s:%s:%d:%d:%d:%s",
		req.Layer, req.Resolution, req.Zoom, req.TileX, req.TileY, req.Date)
}

// Get retrieves a cached tile, updating its access time on hit
func (c *TileCache) Get(req gibs.TileRequest) ([]byte, bool) {
	key := Key(req)

	c.mu.RLock()
	meta, exists := c.metadata[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if c.ttl > 0 && time.Since(meta.CreateTime) > c.ttl {
		c.evictTile(key, meta)
		return nil, false
	}

	data, err := os.ReadFile(c.buildFilePath(meta))
	if err != nil {
		// File vanished underneath us
		c.evictTile(key, meta)
		return nil, false
	}

	c.mu.Lock()
	meta.AccessTime = time.Now()
	c.mu.Unlock()

	return data, true
}

// Set stores a tile on disk and in the metadata index
func (c *TileCache) Set(req gibs.TileRequest, data []byte) error {
	key := Key(req)
	size := int64(len(data))

	ext := "jpg"
	if layer, err := gibs.LayerByID(req.Layer); err == nil {
		ext = layer.Format
	}

	now := time.Now()
	meta := &TileMetadata{
		Key:        key,
		Layer:      req.Layer,
		Resolution: req.Resolution,
		Z:          req.Zoom,
		X:          req.TileX,
		Y:          req.TileY,
		Date:       req.Date,
		Ext:        ext,
		Size:       size,
		AccessTime: now,
		CreateTime: now,
	}

	filePath := c.buildFilePath(meta)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	c.mu.Lock()
	if oldMeta, exists := c.metadata[key]; exists {
		atomic.AddInt64(&c.currSize, -oldMeta.Size)
		if oldPath := c.buildFilePath(oldMeta); oldPath != filePath {
			os.Remove(oldPath)
		}
	}
	c.metadata[key] = meta
	c.mu.Unlock()

	atomic.AddInt64(&c.currSize, size)

	if atomic.LoadInt64(&c.currSize) > c.maxSize {
		select {
		case c.evictChan <- struct{}{}:
		default:
		}
	}

	go c.saveMetadata()

	return nil
}

func (c *TileCache) buildFilePath(meta *TileMetadata) string {
	filename := fmt.Sprintf("%d_%s.%s", meta.Y, meta.Date, meta.Ext)
	return filepath.Join(c.baseDir, meta.Layer, meta.Resolution,
		fmt.Sprintf("%d", meta.Z), fmt.Sprintf("%d", meta.X), filename)
}

func (c *TileCache) evictTile(key string, meta *TileMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	os.Remove(c.buildFilePath(meta))
	delete(c.metadata, key)
	atomic.AddInt64(&c.currSize, -meta.Size)
}

func (c *TileCache) maintenanceWorker() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.evictChan:
			c.evictLRU()
		case <-ticker.C:
			c.evictExpired()
		case <-c.done:
			return
		}
	}
}

// evictLRU removes least recently used tiles until the cache is back
// under 80% of its cap
func (c *TileCache) evictLRU() {
	c.mu.Lock()
	defer c.mu.Unlock()

	currSize := atomic.LoadInt64(&c.currSize)
	if currSize <= c.maxSize {
		return
	}

	targetSize := c.maxSize * 8 / 10

	entries := make([]*TileMetadata, 0, len(c.metadata))
	for _, meta := range c.metadata {
		entries = append(entries, meta)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	for _, meta := range entries {
		if currSize <= targetSize {
			break
		}
		os.Remove(c.buildFilePath(meta))
		delete(c.metadata, meta.Key)
		atomic.AddInt64(&c.currSize, -meta.Size)
		currSize -= meta.Size
	}

	c.saveMetadataLocked()
}

func (c *TileCache) evictExpired() {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	evicted := 0

	for key, meta := range c.metadata {
		if now.Sub(meta.CreateTime) > c.ttl {
			os.Remove(c.buildFilePath(meta))
			delete(c.metadata, key)
			atomic.AddInt64(&c.currSize, -meta.Size)
			evicted++
		}
	}

	if evicted > 0 {
		c.saveMetadataLocked()
	}
}

func (c *TileCache) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(c.baseDir, indexFile))
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata map[string]*TileMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to parse metadata: %w", err)
	}

	c.metadata = metadata

	var totalSize int64
	for _, meta := range metadata {
		totalSize += meta.Size
	}
	atomic.StoreInt64(&c.currSize, totalSize)

	return nil
}

func (c *TileCache) saveMetadata() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saveMetadataLocked()
}

// saveMetadataLocked writes the index with at least a read lock held.
// Temp file plus rename keeps the index readable across crashes.
func (c *TileCache) saveMetadataLocked() error {
	data, err := json.MarshalIndent(c.metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	metaPath := filepath.Join(c.baseDir, indexFile)
	tempPath := metaPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tempPath, metaPath); err != nil {
		return fmt.Errorf("failed to rename metadata file: %w", err)
	}

	return nil
}

// rebuildMetadata reconstructs the index by walking the cache directory.
// Path shape: {layer}/{resolution}/{z}/{x}/{y}_{date}.{ext}
func (c *TileCache) rebuildMetadata() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metadata = make(map[string]*TileMetadata)
	var totalSize int64

	err := filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		if ext != "jpg" && ext != "png" {
			return nil
		}

		relPath, _ := filepath.Rel(c.baseDir, path)
		parts := strings.Split(relPath, string(os.PathSeparator))
		if len(parts) != 5 {
			return nil
		}

		layer := parts[0]
		resolution := parts[1]
		z, errZ := parseIntSafe(parts[2])
		x, errX := parseIntSafe(parts[3])

		filename := strings.TrimSuffix(parts[4], "."+ext)
		fileParts := strings.SplitN(filename, "_", 2)
		if errZ != nil || errX != nil || len(fileParts) != 2 {
			return nil
		}
		y, errY := parseIntSafe(fileParts[0])
		if errY != nil {
			return nil
		}
		date := fileParts[1]

		meta := &TileMetadata{
			Key:        fmt.Sprintf("%s:%s:%d:%d:%d:%s", layer, resolution, z, x, y, date),
			Layer:      layer,
			Resolution: resolution,
			Z:          z,
			X:          x,
			Y:          y,
			Date:       date,
			Ext:        ext,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}

		c.metadata[meta.Key] = meta
		totalSize += info.Size()

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w", err)
	}

	atomic.StoreInt64(&c.currSize, totalSize)

	return c.saveMetadataLocked()
}

func parseIntSafe(s string) (int, error) {
	var i int
	_, err := fmt.Sscanf(s, "%d", &i)
	return i, err
}

// Stats returns entry count, current size, and maximum size
func (c *TileCache) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.metadata), atomic.LoadInt64(&c.currSize), c.maxSize
}

// Clear removes every cached tile
func (c *TileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, meta := range c.metadata {
		os.Remove(c.buildFilePath(meta))
	}

	c.metadata = make(map[string]*TileMetadata)
	atomic.StoreInt64(&c.currSize, 0)

	return c.saveMetadataLocked()
}

// Dir returns the cache's base directory
func (c *TileCache) Dir() string {
	return c.baseDir
}

// Close stops the background maintenance worker
func (c *TileCache) Close() {
	close(c.done)
}
