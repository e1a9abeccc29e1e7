package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/segpost/internal/backend"
	"github.com/MeKo-Tech/segpost/internal/onnx/mock"
	"github.com/MeKo-Tech/segpost/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	fakeNetSize = 64
	fakeSegDim  = 4
	fakeMaskHW  = 8
)

// fakeBackend adds the model methods the commands use to mock.Backend.
type fakeBackend struct {
	mock.Backend
	closed bool
}

func (f *fakeBackend) NetSize() int     { return fakeNetSize }
func (f *fakeBackend) Warmup(int) error { return nil }

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func (f *fakeBackend) Info() map[string]interface{} {
	return map[string]interface{}{"backend_kind": "fake", "net_size": fakeNetSize}
}

// useFakeBackend makes every opened model report one centered detection of
// class 0. It returns the opened backends.
func useFakeBackend(t *testing.T) *[]*fakeBackend {
	t.Helper()
	opened := &[]*fakeBackend{}
	old := openBackend
	openBackend = func(backend.ORTConfig) (modelBackend, error) {
		spec := mock.HeadSpec{NPred: 10, NumClasses: 2, SegDim: fakeSegDim}
		pred := mock.Pred{CX: 32, CY: 32, W: 20, H: 20, Class: 0, Logit: 5, Coeffs: mock.UnitCoeffs(fakeSegDim)}
		proto := mock.NewCenteredBlobProto(fakeSegDim, fakeMaskHW, fakeMaskHW, 6, 2)
		b := &fakeBackend{Backend: mock.Backend{
			Out: mock.NewTensorOutput(spec, []mock.Pred{pred}, proto, fakeMaskHW, fakeMaskHW, true),
		}}
		*opened = append(*opened, b)
		return b, nil
	}
	t.Cleanup(func() { openBackend = old })
	return opened
}

// isolate runs the test in an empty directory with no config files or
// SEGPOST_* overrides in reach.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	return dir
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the root command with args on fresh global state.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	viper.Reset()
	rebindFlags()
	resetFlags(rootCmd)
	cfgFile = ""
	configLoader = nil
	t.Cleanup(func() {
		viper.Reset()
		rebindFlags()
		resetFlags(rootCmd)
	})

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestImage(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	return testutil.WritePNG(t, dir, name, testutil.GenerateScene(testutil.Scene{
		Size: testutil.ImageSize{Width: w, Height: h},
	}))
}
