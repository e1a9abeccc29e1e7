package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/MeKo-Tech/segpost/internal/backend"
	"github.com/MeKo-Tech/segpost/internal/config"
	"github.com/MeKo-Tech/segpost/internal/models"
	"github.com/MeKo-Tech/segpost/internal/onnx"
	"github.com/MeKo-Tech/segpost/internal/segment"
)

// modelBackend is what the commands need from a loaded model.
type modelBackend interface {
	segment.Backend
	NetSize() int
	Warmup(iterations int) error
	Info() map[string]interface{}
	Close() error
}

// openBackend loads one model session. Tests replace it.
var openBackend = func(cfg backend.ORTConfig) (modelBackend, error) {
	b, err := backend.NewORTBackend(cfg)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// openPool loads n sessions of the configured model, one per handle. The
// returned info describes the first session.
func openPool(cfg *config.Config, n int) (*segment.HandlePool, map[string]interface{}, error) {
	if n <= 0 {
		return nil, nil, fmt.Errorf("invalid handle count %d", n)
	}
	ortCfg := cfg.ToORTConfig()
	handles := make([]*segment.Handle, 0, n)
	closeAll := func() {
		for _, h := range handles {
			_ = h.Close()
		}
	}

	var info map[string]interface{}
	for i := range n {
		b, err := openBackend(ortCfg)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to load model %s: %w", ortCfg.ModelPath, err)
		}
		if err := b.Warmup(cfg.Model.WarmupIterations); err != nil {
			_ = b.Close()
			closeAll()
			return nil, nil, err
		}

		segCfg := cfg.ToSegmentConfig()
		segCfg.NetSize = b.NetSize()
		h, err := segment.NewHandle(fmt.Sprintf("handle-%d", i), b, segCfg)
		if err != nil {
			_ = b.Close()
			closeAll()
			return nil, nil, err
		}
		handles = append(handles, h)
		if info == nil {
			info = b.Info()
		}
	}

	pool, err := segment.NewHandlePool(handles...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	slog.Debug("Model loaded", "path", ortCfg.ModelPath, "handles", n, "net_size", handles[0].Config().NetSize)
	return pool, info, nil
}

// closePool closes the pool and shuts the runtime down.
func closePool(pool *segment.HandlePool) {
	if err := pool.Close(); err != nil {
		slog.Warn("Failed to close handles", "error", err)
	}
	destroyRuntime()
}

func destroyRuntime() {
	if err := onnx.DestroyEnvironment(); err != nil {
		slog.Warn("Failed to destroy ONNX Runtime environment", "error", err)
	}
}

// loadLabels reads the label file. A missing default file is not an
// error; labels then fall back to "class_<n>".
func loadLabels(cfg *config.Config) (*models.Labels, error) {
	path := cfg.LabelsPath()
	labels, err := models.LoadLabels(path)
	if err == nil {
		return labels, nil
	}
	if cfg.Model.LabelsPath == "" && errors.Is(err, fs.ErrNotExist) {
		slog.Debug("No label file found, using class ids", "path", path)
		return nil, nil
	}
	return nil, fmt.Errorf("failed to load labels: %w", err)
}
