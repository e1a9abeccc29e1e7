// Package mempool keeps size-classed sync.Pools for the float32 and bool
// scratch buffers used on the segmentation hot path (letterbox input planes,
// per-detection masks, NMS suppression flags).
package mempool

import (
	"sync"
)

const classStep = 1024

// sizedPool hands out slices of a fixed element type, bucketed by capacity.
type sizedPool[T any] struct {
	pools sync.Map // key: size class (int), value: *sync.Pool
}

var (
	float32Pool sizedPool[float32]
	boolPool    sizedPool[bool]
)

// sizeClass rounds n up to the next multiple of 1024 (minimum 1024).
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

func (sp *sizedPool[T]) pool(cls int) *sync.Pool {
	pAny, _ := sp.pools.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]T, cls) }})
	p, _ := pAny.(*sync.Pool)
	return p
}

func (sp *sizedPool[T]) get(n int) []T {
	cls := sizeClass(n)
	p := sp.pool(cls)
	if p == nil {
		return make([]T, cls)[:n]
	}
	buf, ok := p.Get().([]T)
	if !ok || cap(buf) < cls {
		buf = make([]T, cls)
	}
	return buf[:n]
}

func (sp *sizedPool[T]) put(buf []T) {
	if buf == nil {
		return
	}
	// Only full size classes go back; a foreign slice with an odd capacity
	// would otherwise be handed out short.
	c := cap(buf)
	if c < classStep || c%classStep != 0 {
		return
	}
	if p := sp.pool(c); p != nil {
		p.Put(buf[:c]) //nolint:staticcheck
	}
}

// GetFloat32 retrieves a []float32 of length n. Contents are not zeroed.
// The caller must return it via PutFloat32 when done.
func GetFloat32(n int) []float32 {
	return float32Pool.get(n)
}

// PutFloat32 returns a buffer to the pool. It is safe to pass a nil slice.
func PutFloat32(buf []float32) {
	float32Pool.put(buf)
}

// GetBool retrieves a zeroed []bool of length n.
// The caller must return it via PutBool when done.
func GetBool(n int) []bool {
	buf := boolPool.get(n)
	clear(buf)
	return buf
}

// PutBool returns a buffer to the pool. It is safe to pass a nil slice.
func PutBool(buf []bool) {
	boolPool.put(buf)
}
