package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/segpost/internal/backend"
	"github.com/MeKo-Tech/segpost/internal/report"
	"github.com/MeKo-Tech/segpost/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageCommand(t *testing.T) {
	assert.True(t, strings.HasPrefix(imageCmd.Use, "image"))
	assert.NotEmpty(t, imageCmd.Short)
	for _, name := range []string{"format", "output", "overlay-dir", "masks", "workers"} {
		assert.NotNil(t, imageCmd.Flags().Lookup(name), name)
	}
}

func TestImageCommand_Text(t *testing.T) {
	dir := isolate(t)
	useFakeBackend(t)
	img := writeTestImage(t, dir, "a.png", 64, 64)

	out, _, err := executeCommand(t, "image", img)
	require.NoError(t, err)
	assert.Contains(t, out, "a.png (64x64): 1 detection(s)")
	assert.Contains(t, out, "class_0")
}

func TestImageCommand_JSONWithLabelsAndMasks(t *testing.T) {
	dir := isolate(t)
	opened := useFakeBackend(t)
	img := writeTestImage(t, dir, "a.png", 128, 64)
	labels := testutil.WriteFile(t, dir, "labels.txt", []byte("person\nbicycle\n"))

	out, _, err := executeCommand(t, "image", img, "--format", "json", "--labels", labels, "--masks")
	require.NoError(t, err)

	var rep report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 128, rep.Width)
	assert.Equal(t, 64, rep.Height)
	assert.Equal(t, fakeNetSize, rep.Geometry.NetSize)
	require.Equal(t, 1, rep.Count)
	assert.Equal(t, "person", rep.Detections[0].Label)
	assert.NotEmpty(t, rep.Detections[0].Mask)

	require.Len(t, *opened, 1)
	assert.True(t, (*opened)[0].closed)
}

func TestImageCommand_CSVMultipleAndWarnings(t *testing.T) {
	dir := isolate(t)
	useFakeBackend(t)
	a := writeTestImage(t, dir, "a.png", 64, 64)
	b := writeTestImage(t, dir, "b.png", 96, 64)
	missing := filepath.Join(dir, "missing.png")

	out, errOut, err := executeCommand(t, "image", a, missing, b, "-f", "csv", "--workers", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "source,class_id,label,score,x,y,w,h", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], a+","))
	assert.True(t, strings.HasPrefix(lines[2], b+","))
	assert.Contains(t, errOut, "warning: "+missing)
}

func TestImageCommand_OverlayAndOutputFile(t *testing.T) {
	dir := isolate(t)
	useFakeBackend(t)
	img := writeTestImage(t, dir, "street.png", 64, 64)
	overlays := filepath.Join(dir, "overlays")
	outFile := filepath.Join(dir, "result.json")

	out, _, err := executeCommand(t, "image", img, "--overlay-dir", overlays, "-o", outFile, "-f", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "Results written to")
	assert.True(t, testutil.FileExists(filepath.Join(overlays, "street_overlay.png")))

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"count": 1`)
}

func TestImageCommand_Errors(t *testing.T) {
	t.Run("no arguments", func(t *testing.T) {
		isolate(t)
		_, _, err := executeCommand(t, "image")
		assert.Error(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		dir := isolate(t)
		useFakeBackend(t)
		_, _, err := executeCommand(t, "image", writeTestImage(t, dir, "a.png", 8, 8), "--format", "xml")
		assert.Error(t, err)
	})

	t.Run("nothing processed", func(t *testing.T) {
		isolate(t)
		useFakeBackend(t)
		_, _, err := executeCommand(t, "image", "/non/existent/file.jpg")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no image could be processed")
	})

	t.Run("explicit labels missing", func(t *testing.T) {
		dir := isolate(t)
		useFakeBackend(t)
		img := writeTestImage(t, dir, "a.png", 8, 8)
		_, _, err := executeCommand(t, "image", img, "--labels", filepath.Join(dir, "none.txt"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "labels")
	})

	t.Run("model fails to load", func(t *testing.T) {
		dir := isolate(t)
		old := openBackend
		openBackend = func(backend.ORTConfig) (modelBackend, error) { return nil, assert.AnError }
		t.Cleanup(func() { openBackend = old })

		_, _, err := executeCommand(t, "image", writeTestImage(t, dir, "a.png", 8, 8))
		require.ErrorIs(t, err, assert.AnError)
	})
}
