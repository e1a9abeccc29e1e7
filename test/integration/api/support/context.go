// Package support holds the step definitions of the HTTP API integration
// suite. Scenarios run against an in-process server whose model is replaced
// by a deterministic mock backend.
package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/segpost/internal/models"
	"github.com/MeKo-Tech/segpost/internal/onnx/mock"
	"github.com/MeKo-Tech/segpost/internal/segment"
	"github.com/MeKo-Tech/segpost/internal/server"
	"github.com/MeKo-Tech/segpost/internal/testutil"
	"github.com/gorilla/websocket"
)

const (
	netSize = 64
	segDim  = 4
	maskHW  = 8
)

// TestContext holds the state of one scenario.
type TestContext struct {
	Labels    []string
	RateLimit int
	Fail      bool

	HTTPServer *httptest.Server
	Server     *server.Server

	LastStatus int
	LastBody   string
	LastJSON   map[string]interface{}
	WSReply    map[string]interface{}
}

// NewTestContext returns an empty scenario context.
func NewTestContext() *TestContext {
	return &TestContext{}
}

// Cleanup stops the server started by the scenario.
func (c *TestContext) Cleanup() error {
	if c.HTTPServer != nil {
		c.HTTPServer.Close()
		c.HTTPServer = nil
	}
	if c.Server != nil {
		err := c.Server.Close()
		c.Server = nil
		return err
	}
	return nil
}

// startServer builds a pool of handles over mock backends that report one
// detection of class 0 centered in net space.
func (c *TestContext) startServer(handles int) error {
	spec := mock.HeadSpec{NPred: 16, NumClasses: max(len(c.Labels), 1), SegDim: segDim}
	pred := mock.Pred{CX: 32, CY: 32, W: 20, H: 20, Class: 0, Logit: 5, Coeffs: mock.UnitCoeffs(segDim)}
	proto := mock.NewCenteredBlobProto(segDim, maskHW, maskHW, 6, 2)

	cfg := segment.DefaultConfig()
	cfg.NetSize = netSize
	hs := make([]*segment.Handle, 0, handles)
	for i := range handles {
		b := &mock.Backend{
			Out:  mock.NewTensorOutput(spec, []mock.Pred{pred}, proto, maskHW, maskHW, true),
			Fail: c.Fail,
		}
		h, err := segment.NewHandle(fmt.Sprintf("it-%d", i), b, cfg)
		if err != nil {
			return err
		}
		hs = append(hs, h)
	}
	pool, err := segment.NewHandlePool(hs...)
	if err != nil {
		return err
	}

	var labels *models.Labels
	if len(c.Labels) > 0 {
		labels = &models.Labels{Names: c.Labels}
	}
	srv, err := server.NewServer(pool, server.Config{
		Labels:             labels,
		RateLimitPerMinute: c.RateLimit,
		Version:            "integration",
	})
	if err != nil {
		return err
	}
	c.Server = srv
	c.HTTPServer = httptest.NewServer(srv.Handler())
	return nil
}

func scenePNG(w, h int) ([]byte, error) {
	img := testutil.GenerateScene(testutil.Scene{
		Size:       testutil.ImageSize{Width: w, Height: h},
		Background: color.Gray{Y: 90},
	})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *TestContext) record(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	c.LastStatus = resp.StatusCode
	c.LastBody = string(body)
	c.LastJSON = nil
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var m map[string]interface{}
		if err := json.Unmarshal(body, &m); err == nil {
			c.LastJSON = m
		}
	}
	return nil
}

// lookup walks a dotted path such as "result.detections.0.label".
func lookup(doc map[string]interface{}, path string) (interface{}, error) {
	var cur interface{} = doc
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %q not found in %s", part, path)
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %q out of range in %s", part, path)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("cannot descend into %s at %q", path, part)
		}
	}
	return cur, nil
}

func (c *TestContext) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(c.HTTPServer.URL, "http") + path
}

func dialWS(url string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}
