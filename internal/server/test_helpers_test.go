package server

import (
	"bytes"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/segpost/internal/models"
	"github.com/MeKo-Tech/segpost/internal/onnx/mock"
	"github.com/MeKo-Tech/segpost/internal/segment"
	"github.com/MeKo-Tech/segpost/internal/testutil"
	"github.com/stretchr/testify/require"
)

const (
	testNetSize = 64
	testSegDim  = 4
	testMaskHW  = 8
)

// newTestPool returns a one-handle pool whose backend reports a single
// centered detection of class 0.
func newTestPool(t *testing.T, fail bool) *segment.HandlePool {
	t.Helper()
	spec := mock.HeadSpec{NPred: 10, NumClasses: 2, SegDim: testSegDim}
	pred := mock.Pred{CX: 32, CY: 32, W: 20, H: 20, Class: 0, Logit: 5, Coeffs: mock.UnitCoeffs(testSegDim)}
	proto := mock.NewCenteredBlobProto(testSegDim, testMaskHW, testMaskHW, 6, 2)
	b := &mock.Backend{
		Out:  mock.NewTensorOutput(spec, []mock.Pred{pred}, proto, testMaskHW, testMaskHW, true),
		Fail: fail,
	}

	cfg := segment.DefaultConfig()
	cfg.NetSize = testNetSize
	h, err := segment.NewHandle("test", b, cfg)
	require.NoError(t, err)
	pool, err := segment.NewHandlePool(h)
	require.NoError(t, err)
	return pool
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Labels == nil {
		cfg.Labels = &models.Labels{Names: []string{"person", "bicycle"}}
	}
	s, err := NewServer(newTestPool(t, false), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.GenerateScene(testutil.Scene{
		Size:       testutil.ImageSize{Width: w, Height: h},
		Background: color.NRGBA{R: 90, G: 120, B: 200, A: 255},
	}))
}


// multipartRequest builds a POST with data in the "image" field.
func multipartRequest(t *testing.T, target, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "test.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
