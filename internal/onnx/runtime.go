package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath overrides library discovery with an explicit path.
const EnvLibraryPath = "SEGPOST_ONNXRUNTIME_LIB"

var envMu sync.Mutex

// libraryName returns the shared library filename for goos.
func libraryName(goos string) (string, error) {
	switch goos {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}
}

// candidateLibraryPaths lists where the runtime library is looked for, in
// order. GPU builds are preferred when useGPU is set.
func candidateLibraryPaths(useGPU bool, projectRoot, libName string) []string {
	var paths []string
	if env := os.Getenv(EnvLibraryPath); env != "" {
		paths = append(paths, env)
	}
	if useGPU {
		paths = append(paths, filepath.Join("/opt/onnxruntime/gpu/lib", libName))
	}
	paths = append(paths,
		filepath.Join("/usr/local/lib", libName),
		filepath.Join("/usr/lib", libName),
		filepath.Join("/opt/onnxruntime/cpu/lib", libName),
	)
	if projectRoot != "" {
		if useGPU {
			paths = append(paths, filepath.Join(projectRoot, "onnxruntime", "gpu", "lib", libName))
		}
		paths = append(paths, filepath.Join(projectRoot, "onnxruntime", "lib", libName))
	}
	return paths
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

// FindLibrary returns the first existing ONNX Runtime library path.
func FindLibrary(useGPU bool) (string, error) {
	libName, err := libraryName(runtime.GOOS)
	if err != nil {
		return "", err
	}
	root, _ := findProjectRoot()
	for _, p := range candidateLibraryPaths(useGPU, root, libName) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library %s not found (set %s)", libName, EnvLibraryPath)
}

// InitEnvironment locates the shared library and initializes the ONNX
// Runtime environment once per process. Later calls are no-ops.
func InitEnvironment(useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	path, err := FindLibrary(useGPU)
	if err != nil {
		return fmt.Errorf("failed to set ONNX Runtime library path: %w", err)
	}
	onnxruntime_go.SetSharedLibraryPath(path)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	slog.Debug("ONNX Runtime initialized", "library", path)
	return nil
}

// DestroyEnvironment tears down the ONNX Runtime environment if it was
// initialized. Call it once at process shutdown.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !onnxruntime_go.IsInitialized() {
		return nil
	}
	return onnxruntime_go.DestroyEnvironment()
}
