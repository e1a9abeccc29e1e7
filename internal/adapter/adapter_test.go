package adapter_test

import (
	"testing"

	"github.com/MeKo-Tech/segpost/internal/adapter"
	"github.com/MeKo-Tech/segpost/internal/onnx"
	"github.com/MeKo-Tech/segpost/internal/onnx/mock"
	"github.com/MeKo-Tech/segpost/internal/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hot = mock.Pred{CX: 100, CY: 120, W: 50, H: 40, Class: 1, Logit: 6, Coeffs: []float32{0.5, -1, 2}}

func checkHot(t *testing.T, h *adapter.Head) {
	t.Helper()
	assert.InDelta(t, 100, h.At(0, 0), 0)
	assert.InDelta(t, 120, h.At(0, 1), 0)
	assert.InDelta(t, 50, h.At(0, 2), 0)
	assert.InDelta(t, 40, h.At(0, 3), 0)
	assert.InDelta(t, mock.BackgroundLogit, h.At(0, 4), 0)
	assert.InDelta(t, 6, h.At(0, 5), 0)
	off := h.CoeffOffset()
	assert.Equal(t, 6, off)
	assert.InDelta(t, 2, h.At(0, off+2), 0)
	assert.InDelta(t, mock.BackgroundLogit, h.At(1, 5), 0)
}

func TestAdapt_TensorChannelsFirst(t *testing.T) {
	spec := mock.HeadSpec{NPred: 1200, NumClasses: 2, SegDim: 3}
	raw := mock.NewTensorOutput(spec, []mock.Pred{hot}, mock.NewUniformProto(3, 4, 4, 0), 4, 4, true)

	out, err := adapter.Adapt(raw, 640)
	require.NoError(t, err)
	h := &out.Head
	assert.True(t, h.ChannelMajor())
	assert.Equal(t, 1200, h.NPred())
	assert.Equal(t, 9, h.Channels())
	assert.Equal(t, 2, h.NumClasses())
	assert.Equal(t, 3, h.SegDim())
	assert.InDelta(t, 1, h.CoordScale(), 0)
	checkHot(t, h)

	assert.Equal(t, proto.ChannelMajor, out.Proto.Layout)
	assert.Equal(t, 3, out.Proto.SegDim)
	assert.Equal(t, 4, out.Proto.H)
	assert.Equal(t, 4, out.Proto.W)
}

func TestAdapt_TensorPredictionsFirst(t *testing.T) {
	// 300 > segDim+4+256, so the leading axis is predictions.
	spec := mock.HeadSpec{NPred: 300, NumClasses: 2, SegDim: 3}
	raw := mock.NewTensorOutput(spec, []mock.Pred{hot}, mock.NewUniformProto(3, 4, 4, 0), 4, 4, false)

	out, err := adapter.Adapt(raw, 640)
	require.NoError(t, err)
	assert.False(t, out.Head.ChannelMajor())
	assert.Equal(t, 300, out.Head.NPred())
	checkHot(t, &out.Head)
}

func TestAdapt_TensorSmallHeadChannelsFirst(t *testing.T) {
	spec := mock.HeadSpec{NPred: 5, NumClasses: 1, SegDim: 3}
	raw := mock.NewTensorOutput(spec, nil, mock.NewUniformProto(3, 4, 4, 0), 4, 4, true)

	out, err := adapter.Adapt(raw, 640)
	require.NoError(t, err)
	assert.Equal(t, 8, out.Head.Channels())
	assert.Equal(t, 5, out.Head.NPred())
}

func TestAdapt_FlatRowMajor(t *testing.T) {
	spec := mock.HeadSpec{NPred: 40, NumClasses: 2, SegDim: 3}
	raw := mock.NewFlatOutput(spec, []mock.Pred{hot}, mock.NewUniformProto(3, 4, 4, 0), 4, 4, false)

	out, err := adapter.Adapt(raw, 640)
	require.NoError(t, err)
	assert.False(t, out.Head.ChannelMajor())
	assert.Equal(t, 40, out.Head.NPred())
	checkHot(t, &out.Head)
	assert.Equal(t, proto.Unknown, out.Proto.Layout)
}

func TestAdapt_FlatTransposed(t *testing.T) {
	spec := mock.HeadSpec{NPred: 600, NumClasses: 2, SegDim: 3}
	raw := mock.NewFlatOutput(spec, []mock.Pred{hot}, mock.NewUniformProto(3, 4, 4, 0), 4, 4, true)
	require.Equal(t, 9, raw.Count)

	out, err := adapter.Adapt(raw, 640)
	require.NoError(t, err)
	assert.True(t, out.Head.ChannelMajor())
	assert.Equal(t, 600, out.Head.NPred())
	checkHot(t, &out.Head)
}

func TestAdapt_NormalizedCoordinates(t *testing.T) {
	spec := mock.HeadSpec{NPred: 10, NumClasses: 1, SegDim: 2}
	pred := mock.Pred{CX: 0.5, CY: 0.5, W: 0.25, H: 0.2, Logit: 5, Coeffs: []float32{1, 0}}
	raw := mock.NewFlatOutput(spec, []mock.Pred{pred}, mock.NewUniformProto(2, 2, 2, 0), 2, 2, false)

	out, err := adapter.Adapt(raw, 640)
	require.NoError(t, err)
	assert.InDelta(t, 640, out.Head.CoordScale(), 0)
}

func TestAdapt_CoordSampleLimitedTo128(t *testing.T) {
	spec := mock.HeadSpec{NPred: 200, NumClasses: 1, SegDim: 2}
	preds := make([]mock.Pred, 200)
	for i := range preds {
		preds[i] = mock.Pred{W: 0.1, H: 0.1}
	}
	// A large box after the sampled window does not change the decision.
	preds[150] = mock.Pred{W: 80, H: 80}
	raw := mock.NewFlatOutput(spec, preds, mock.NewUniformProto(2, 2, 2, 0), 2, 2, false)

	out, err := adapter.Adapt(raw, 320)
	require.NoError(t, err)
	assert.InDelta(t, 320, out.Head.CoordScale(), 0)
}

func TestAdapt_Errors(t *testing.T) {
	goodProto := onnx.Tensor{Data: make([]float32, 3*4*4), Shape: []int64{1, 3, 4, 4}}

	tests := []struct {
		name string
		raw  adapter.RawOutput
	}{
		{"nil", nil},
		{"no class channels", &adapter.TensorOutput{
			Det:   onnx.Tensor{Data: make([]float32, 7*5), Shape: []int64{1, 7, 5}},
			Proto: goodProto,
		}},
		{"detection rank", &adapter.TensorOutput{
			Det:   onnx.Tensor{Data: make([]float32, 8*5), Shape: []int64{8, 5}},
			Proto: goodProto,
		}},
		{"proto rank", &adapter.TensorOutput{
			Det:   onnx.Tensor{Data: make([]float32, 8*5), Shape: []int64{1, 8, 5}},
			Proto: onnx.Tensor{Data: make([]float32, 48), Shape: []int64{3, 4, 4}},
		}},
		{"detection length", &adapter.TensorOutput{
			Det:   onnx.Tensor{Data: make([]float32, 10), Shape: []int64{1, 8, 5}},
			Proto: goodProto,
		}},
		{"detection batch", &adapter.TensorOutput{
			Det:   onnx.Tensor{Data: make([]float32, 2*8*5), Shape: []int64{2, 8, 5}},
			Proto: goodProto,
		}},
		{"proto batch", &adapter.TensorOutput{
			Det:   onnx.Tensor{Data: make([]float32, 8*5), Shape: []int64{1, 8, 5}},
			Proto: onnx.Tensor{Data: make([]float32, 2*3*4*4), Shape: []int64{2, 3, 4, 4}},
		}},
		{"flat detection length", &adapter.FlatOutput{
			Det: make([]float32, 10), Count: 5, Width: 8,
			Proto: make([]float32, 48), SegDim: 3, MaskH: 4, MaskW: 4,
		}},
		{"flat proto length", &adapter.FlatOutput{
			Det: make([]float32, 40), Count: 5, Width: 8,
			Proto: make([]float32, 47), SegDim: 3, MaskH: 4, MaskW: 4,
		}},
		{"flat proto dims", &adapter.FlatOutput{
			Det: make([]float32, 40), Count: 5, Width: 8,
			Proto: nil, SegDim: 0, MaskH: 4, MaskW: 4,
		}},
		{"flat no class channels", &adapter.FlatOutput{
			Det: make([]float32, 35), Count: 5, Width: 7,
			Proto: make([]float32, 48), SegDim: 3, MaskH: 4, MaskW: 4,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := adapter.Adapt(tt.raw, 640)
			require.ErrorIs(t, err, adapter.ErrInvalidLayout)
		})
	}
}

func TestAdapt_EmptyFlat(t *testing.T) {
	raw := &adapter.FlatOutput{Count: 0, Width: 8, Proto: make([]float32, 48), SegDim: 3, MaskH: 4, MaskW: 4}
	out, err := adapter.Adapt(raw, 640)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Head.NPred())
	assert.InDelta(t, 1, out.Head.CoordScale(), 0)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "tensor", adapter.Kind(&adapter.TensorOutput{}))
	assert.Equal(t, "flat", adapter.Kind(&adapter.FlatOutput{}))
	assert.Empty(t, adapter.Kind(nil))
}
