package segment_test

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/segpost/internal/adapter"
	"github.com/MeKo-Tech/segpost/internal/detector"
	"github.com/MeKo-Tech/segpost/internal/letterbox"
	"github.com/MeKo-Tech/segpost/internal/onnx/mock"
	"github.com/MeKo-Tech/segpost/internal/segment"
	"github.com/cucumber/godog"
)

// pipelineCtx holds the state of one scenario.
type pipelineCtx struct {
	netSize  int
	geometry letterbox.Geometry

	dets []detector.Detection
	kept []detector.Detection

	flat   bool
	spec   mock.HeadSpec
	preds  []mock.Pred
	proto  []float32
	maskHW [2]int

	handle *segment.Handle
	result *segment.Result
}

func (p *pipelineCtx) aNetSizeOf(n int) error {
	p.netSize = n
	return nil
}

func (p *pipelineCtx) anImageIsLetterboxed(w, h int) error {
	p.geometry = letterbox.Compute(w, h, p.netSize)
	return nil
}

func (p *pipelineCtx) theScaleIs(s float64) error {
	if math.Abs(p.geometry.Scale-s) > 1e-9 {
		return fmt.Errorf("scale %v, want %v", p.geometry.Scale, s)
	}
	return nil
}

func (p *pipelineCtx) theResizedSizeIs(w, h int) error {
	if p.geometry.ResizedW != w || p.geometry.ResizedH != h {
		return fmt.Errorf("resized %dx%d, want %dx%d", p.geometry.ResizedW, p.geometry.ResizedH, w, h)
	}
	return nil
}

func (p *pipelineCtx) thePaddingIs(x, y int) error {
	if p.geometry.PadX != x || p.geometry.PadY != y {
		return fmt.Errorf("padding %d,%d, want %d,%d", p.geometry.PadX, p.geometry.PadY, x, y)
	}
	return nil
}

func (p *pipelineCtx) aDetectionAt(l, t, r, b int, score float64) error {
	p.dets = append(p.dets, detector.Detection{
		Box:   detector.Box{Left: float32(l), Top: float32(t), Right: float32(r), Bottom: float32(b)},
		Score: float32(score),
	})
	return nil
}

func (p *pipelineCtx) nmsRuns(theta float64) error {
	p.kept = detector.NonMaxSuppression(p.dets, float32(theta))
	return nil
}

func (p *pipelineCtx) detectionsRemain(n int) error {
	got := len(p.kept)
	if p.result != nil {
		got = p.result.Len()
	}
	if got != n {
		return fmt.Errorf("%d detections remain, want %d", got, n)
	}
	return nil
}

func (p *pipelineCtx) theRemainingDetectionHasScore(s float64) error {
	if len(p.kept) != 1 || math.Abs(float64(p.kept[0].Score)-s) > 1e-6 {
		return fmt.Errorf("unexpected remaining detections %+v", p.kept)
	}
	return nil
}

func (p *pipelineCtx) aHead(kind string, classes, coeffs, preds int) error {
	p.flat = kind == "flat"
	p.spec = mock.HeadSpec{NPred: preds, NumClasses: classes, SegDim: coeffs}
	p.preds = make([]mock.Pred, preds)
	for i := range p.preds {
		p.preds[i] = mock.Pred{Class: -1, Coeffs: mock.UnitCoeffs(coeffs)}
	}
	return nil
}

func (p *pipelineCtx) aProto(k, h, w int) error {
	if k != p.spec.SegDim {
		return fmt.Errorf("proto has %d channels, head has %d coefficients", k, p.spec.SegDim)
	}
	p.proto = mock.NewCenteredBlobProto(k, h, w, 4, 1.5)
	p.maskHW = [2]int{h, w}
	return nil
}

func (p *pipelineCtx) aHalfPlaneProto(h, w int, layout string) error {
	data := mock.NewHalfPlaneProto(p.spec.SegDim, h, w, 8)
	switch layout {
	case "channel-major":
	case "spatial-major":
		data = mock.ToSpatialMajor(data, p.spec.SegDim, h, w)
	default:
		return fmt.Errorf("unknown layout %q", layout)
	}
	p.proto = data
	p.maskHW = [2]int{h, w}
	return nil
}

func (p *pipelineCtx) aUniformProto(h, w int) error {
	p.proto = mock.NewUniformProto(p.spec.SegDim, h, w, 0.3)
	p.maskHW = [2]int{h, w}
	return nil
}

func (p *pipelineCtx) predictionIsHot(i, cx, cy, w, h, class int) error {
	if i >= len(p.preds) {
		return fmt.Errorf("prediction %d out of range", i)
	}
	p.preds[i].CX, p.preds[i].CY = float32(cx), float32(cy)
	p.preds[i].W, p.preds[i].H = float32(w), float32(h)
	p.preds[i].Class = class
	p.preds[i].Logit = 6
	return nil
}

func (p *pipelineCtx) predictionHasZeroCoefficients(i int) error {
	p.preds[i].Coeffs = make([]float32, p.spec.SegDim)
	return nil
}

func (p *pipelineCtx) theImageIsProcessed(n int) error {
	var raw adapter.RawOutput
	if p.flat {
		raw = mock.NewFlatOutput(p.spec, p.preds, p.proto, p.maskHW[0], p.maskHW[1], false)
	} else {
		raw = mock.NewTensorOutput(p.spec, p.preds, p.proto, p.maskHW[0], p.maskHW[1], true)
	}
	cfg := segment.DefaultConfig()
	cfg.NetSize = n
	h, err := segment.NewHandle("scenario", &mock.Backend{Out: raw}, cfg)
	if err != nil {
		return err
	}
	p.handle = h
	p.result, err = h.Process(grayImage(n, n))
	return err
}

func (p *pipelineCtx) detectionHasBox(i, l, t, r, b, class int) error {
	d := p.result.Detections[i]
	want := detector.Box{Left: float32(l), Top: float32(t), Right: float32(r), Bottom: float32(b)}
	if d.Box != want || d.Class != class {
		return fmt.Errorf("detection %d is %+v class %d, want %+v class %d", i, d.Box, d.Class, want, class)
	}
	return nil
}

func (p *pipelineCtx) everyMaskValueIs(i int, v float64) error {
	m := make([]float32, p.result.MaskLen())
	if err := p.result.Mask(i, m); err != nil {
		return err
	}
	for j, x := range m {
		if math.Abs(float64(x)-v) > 1e-7 {
			return fmt.Errorf("mask[%d] = %v, want %v", j, x, v)
		}
	}
	return nil
}

func (p *pipelineCtx) theHandleLayoutIs(name string) error {
	if got := p.handle.Layout().String(); got != name {
		return fmt.Errorf("layout %s, want %s", got, name)
	}
	return nil
}

func (p *pipelineCtx) theResultProtoIsChannelMajor() error {
	want := mock.NewHalfPlaneProto(p.spec.SegDim, p.maskHW[0], p.maskHW[1], 8)
	if len(p.result.Proto) != len(want) {
		return fmt.Errorf("proto length %d, want %d", len(p.result.Proto), len(want))
	}
	for i := range want {
		if p.result.Proto[i] != want[i] {
			return fmt.Errorf("proto[%d] = %v, want %v", i, p.result.Proto[i], want[i])
		}
	}
	return nil
}

func (p *pipelineCtx) theResultHasNoProto() error {
	if p.result.Proto != nil {
		return fmt.Errorf("expected no proto, got %d values", len(p.result.Proto))
	}
	return nil
}

// InitializeScenario registers the pipeline steps.
func InitializeScenario(sc *godog.ScenarioContext) {
	p := &pipelineCtx{}

	sc.Step(`^a net size of (\d+)$`, p.aNetSizeOf)
	sc.Step(`^a (\d+)x(\d+) image is letterboxed$`, p.anImageIsLetterboxed)
	sc.Step(`^the scale is ([\d.]+)$`, p.theScaleIs)
	sc.Step(`^the resized size is (\d+)x(\d+)$`, p.theResizedSizeIs)
	sc.Step(`^the padding is (\d+) by (\d+)$`, p.thePaddingIs)

	sc.Step(`^a detection at (\d+),(\d+),(\d+),(\d+) with score ([\d.]+)$`, p.aDetectionAt)
	sc.Step(`^non-maximum suppression runs with IoU threshold ([\d.]+)$`, p.nmsRuns)
	sc.Step(`^(\d+) detections? remains?$`, p.detectionsRemain)
	sc.Step(`^the remaining detection has score ([\d.]+)$`, p.theRemainingDetectionHasScore)

	sc.Step(`^a (tensor|flat) backend head with (\d+) class(?:es)?, (\d+) coefficients and (\d+) predictions$`, p.aHead)
	sc.Step(`^a (\d+)x(\d+)x(\d+) proto$`, p.aProto)
	sc.Step(`^an (\d+)x(\d+) half-plane proto stored (\S+)$`, p.aHalfPlaneProto)
	sc.Step(`^an (\d+)x(\d+) uniform proto$`, p.aUniformProto)
	sc.Step(`^prediction (\d+) is hot at (\d+),(\d+) with size (\d+)x(\d+) for class (\d+)$`, p.predictionIsHot)
	sc.Step(`^prediction (\d+) has zero coefficients$`, p.predictionHasZeroCoefficients)
	sc.Step(`^the image is processed at net size (\d+)$`, p.theImageIsProcessed)
	sc.Step(`^detection (\d+) has box (\d+),(\d+),(\d+),(\d+) and class (\d+)$`, p.detectionHasBox)
	sc.Step(`^every mask value of detection (\d+) is ([\d.]+)$`, p.everyMaskValueIs)
	sc.Step(`^the handle layout is "([^"]*)"$`, p.theHandleLayoutIs)
	sc.Step(`^the result proto is channel-major$`, p.theResultProtoIsChannelMajor)
	sc.Step(`^the result has no proto$`, p.theResultHasNoProto)

	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if p.handle != nil {
			_ = p.handle.Close()
		}
		return ctx, nil
	})
}

// TestFeatures runs every feature file under features/.
func TestFeatures(t *testing.T) {
	entries, err := os.ReadDir("features")
	if err != nil {
		t.Fatalf("failed to read features directory: %v", err)
	}

	format := os.Getenv("GODOG_FORMAT")
	if format == "" {
		format = "pretty"
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".feature") {
			continue
		}
		featurePath := filepath.Join("features", e.Name())

		t.Run(e.Name(), func(t *testing.T) {
			suite := godog.TestSuite{
				ScenarioInitializer: InitializeScenario,
				Options: &godog.Options{
					Format:   format,
					Tags:     os.Getenv("GODOG_TAGS"),
					Paths:    []string{featurePath},
					TestingT: t,
				},
			}
			if suite.Run() != 0 {
				t.Fatalf("non-zero status returned for %s", featurePath)
			}
		})
	}
}
