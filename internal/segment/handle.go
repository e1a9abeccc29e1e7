package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/MeKo-Tech/segpost/internal/cache"
	"github.com/MeKo-Tech/segpost/internal/proto"
)

// ErrPoolClosed is returned by Acquire after the pool was closed.
var ErrPoolClosed = errors.New("handle pool is closed")

// Handle pairs a backend with its cache and serializes calls on it.
type Handle struct {
	mu      sync.Mutex
	backend Backend
	cache   *cache.Cache
	cfg     Config
}

// NewHandle creates a handle for backend b. id identifies the handle in
// logs and must be unique per backend instance.
func NewHandle(id string, b Backend, cfg Config) (*Handle, error) {
	if b == nil {
		return nil, errors.New("backend is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c, err := cache.New(id, cfg.NetSize)
	if err != nil {
		return nil, err
	}
	return &Handle{backend: b, cache: c, cfg: cfg}, nil
}

// ID returns the handle identifier.
func (h *Handle) ID() string { return h.cache.ID() }

// Config returns the handle configuration.
func (h *Handle) Config() Config { return h.cfg }

// Layout returns the proto layout cached on this handle.
func (h *Handle) Layout() proto.Layout { return h.cache.Layout() }

// Process segments img. Concurrent calls on the same handle run one after
// another.
func (h *Handle) Process(img image.Image) (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Process(h.backend, h.cache, img, h.cfg.Detector)
}

// Close releases the cache and closes the backend if it implements
// io.Closer.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache.Close()
	if c, ok := h.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// HandlePool lends a fixed set of handles to concurrent callers.
type HandlePool struct {
	all  []*Handle
	free chan *Handle

	mu     sync.RWMutex
	closed bool
}

// NewHandlePool creates a pool over handles.
func NewHandlePool(handles ...*Handle) (*HandlePool, error) {
	if len(handles) == 0 {
		return nil, errors.New("handle pool needs at least one handle")
	}
	p := &HandlePool{all: handles, free: make(chan *Handle, len(handles))}
	for _, h := range handles {
		p.free <- h
	}
	return p, nil
}

// Size returns the number of handles in the pool.
func (p *HandlePool) Size() int { return len(p.all) }

// Available returns the number of idle handles.
func (p *HandlePool) Available() int { return len(p.free) }

// Acquire waits for an idle handle or for ctx to be done.
func (p *HandlePool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}
	select {
	case h, ok := <-p.free:
		if !ok {
			return nil, ErrPoolClosed
		}
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns h to the pool.
func (p *HandlePool) Release(h *Handle) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	p.free <- h
}

// Process runs img on the next idle handle.
func (p *HandlePool) Process(ctx context.Context, img image.Image) (*Result, error) {
	h, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(h)
	return h.Process(img)
}

// Close closes every handle. Handles still checked out are closed as well,
// so callers should stop using the pool first.
func (p *HandlePool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.free)
	p.mu.Unlock()

	var errs []error
	for _, h := range p.all {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close handle %s: %w", h.ID(), err))
		}
	}
	return errors.Join(errs...)
}
