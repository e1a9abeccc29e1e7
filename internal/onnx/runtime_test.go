package onnx

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryName(t *testing.T) {
	tests := []struct {
		goos string
		want string
	}{
		{"linux", "libonnxruntime.so"},
		{"darwin", "libonnxruntime.dylib"},
		{"windows", "onnxruntime.dll"},
	}
	for _, tt := range tests {
		name, err := libraryName(tt.goos)
		require.NoError(t, err)
		assert.Equal(t, tt.want, name)
	}

	_, err := libraryName("plan9")
	assert.Error(t, err)
}

func TestCandidateLibraryPaths(t *testing.T) {
	t.Setenv(EnvLibraryPath, "")

	cpu := candidateLibraryPaths(false, "/proj", "libonnxruntime.so")
	assert.Equal(t, filepath.Join("/usr/local/lib", "libonnxruntime.so"), cpu[0])
	assert.Equal(t, filepath.Join("/proj", "onnxruntime", "lib", "libonnxruntime.so"), cpu[len(cpu)-1])
	assert.NotContains(t, cpu, filepath.Join("/opt/onnxruntime/gpu/lib", "libonnxruntime.so"))

	gpu := candidateLibraryPaths(true, "/proj", "libonnxruntime.so")
	assert.Equal(t, filepath.Join("/opt/onnxruntime/gpu/lib", "libonnxruntime.so"), gpu[0])
	assert.Contains(t, gpu, filepath.Join("/proj", "onnxruntime", "gpu", "lib", "libonnxruntime.so"))

	noRoot := candidateLibraryPaths(false, "", "libonnxruntime.so")
	assert.Len(t, noRoot, 3)
}

func TestCandidateLibraryPaths_EnvOverrideFirst(t *testing.T) {
	t.Setenv(EnvLibraryPath, "/custom/libonnxruntime.so")
	paths := candidateLibraryPaths(true, "", "libonnxruntime.so")
	assert.Equal(t, "/custom/libonnxruntime.so", paths[0])
}

func TestFindLibrary_EnvOverride(t *testing.T) {
	name, err := libraryName(runtime.GOOS)
	if err != nil {
		t.Skip(err)
	}
	dir := t.TempDir()
	lib := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(lib, []byte("stub"), 0o600))
	t.Setenv(EnvLibraryPath, lib)

	found, err := FindLibrary(false)
	require.NoError(t, err)
	assert.Equal(t, lib, found)
}
