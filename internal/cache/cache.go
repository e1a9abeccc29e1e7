// Package cache holds the per-handle mutable state of the segmentation
// pipeline: the reusable preprocessing buffer and the resolved proto layout.
package cache

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/segpost/internal/letterbox"
	"github.com/MeKo-Tech/segpost/internal/mempool"
	"github.com/MeKo-Tech/segpost/internal/proto"
)

// ErrClosed is returned when a closed cache is used.
var ErrClosed = errors.New("cache is closed")

// Cache belongs to exactly one backend handle. The preprocessing buffer is
// reused in place, so callers must not run two calls on the same cache at
// once; Layout and SetLayout are safe for concurrent use.
type Cache struct {
	id  string
	pre *letterbox.Preprocessor
	buf []float32

	mu     sync.RWMutex
	layout proto.Layout
	closed bool
}

// New creates a cache for a handle identified by id, sized for an n x n net.
func New(id string, netSize int) (*Cache, error) {
	pre, err := letterbox.NewPreprocessor(netSize)
	if err != nil {
		return nil, err
	}
	return &Cache{
		id:  id,
		pre: pre,
		buf: mempool.GetFloat32(pre.BufferLen()),
	}, nil
}

// ID returns the handle identifier.
func (c *Cache) ID() string { return c.id }

// Preprocessor returns the handle's letterbox preprocessor.
func (c *Cache) Preprocessor() *letterbox.Preprocessor { return c.pre }

// Buffer returns the reusable 3*N*N input buffer, or ErrClosed.
func (c *Cache) Buffer() ([]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.buf, nil
}

// Layout returns the resolved proto layout, proto.Unknown until set.
func (c *Cache) Layout() proto.Layout {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.layout
}

// SetLayout records l if no layout has been resolved yet. It reports
// whether l was stored; a resolved layout is never replaced.
func (c *Cache) SetLayout(l proto.Layout) bool {
	if l == proto.Unknown {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.layout != proto.Unknown {
		return false
	}
	c.layout = l
	slog.Debug("Resolved proto layout", "handle", c.id, "layout", l.String())
	return true
}

// Close returns the buffer to the pool. Close is idempotent.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	mempool.PutFloat32(c.buf)
	c.buf = nil
}
