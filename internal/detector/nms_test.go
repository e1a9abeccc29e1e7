package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(l, t, r, b, score float32) Detection {
	return Detection{Box: Box{Left: l, Top: t, Right: r, Bottom: b}, Score: score}
}

func TestIoU(t *testing.T) {
	a := Box{Left: 0, Top: 0, Right: 10, Bottom: 10}
	assert.InDelta(t, 1, IoU(a, a), 1e-6)
	assert.Zero(t, IoU(a, Box{Left: 20, Top: 20, Right: 30, Bottom: 30}))
	// Touching edges do not overlap.
	assert.Zero(t, IoU(a, Box{Left: 10, Top: 0, Right: 20, Bottom: 10}))
	assert.InDelta(t, 25.0/175.0, IoU(a, Box{Left: 5, Top: 5, Right: 15, Bottom: 15}), 1e-6)
	// Degenerate boxes do not divide by zero.
	z := Box{Left: 3, Top: 3, Right: 3, Bottom: 3}
	assert.Zero(t, IoU(z, z))
}

func TestNonMaxSuppression_KeepsHigherScoringOverlap(t *testing.T) {
	dets := []Detection{
		det(0, 0, 10, 10, 0.9),
		det(1, 1, 10, 10, 0.8),
	}
	require.Greater(t, IoU(dets[0].Box, dets[1].Box), float32(0.45))

	kept := NonMaxSuppression(dets, 0.45)
	require.Len(t, kept, 1)
	assert.Equal(t, dets[0], kept[0])
}

func TestNonMaxSuppression_OrderAndDisjoint(t *testing.T) {
	dets := []Detection{
		det(20, 20, 30, 30, 0.7),
		det(0, 0, 10, 10, 0.9),
		det(1, 1, 9, 9, 0.8),
	}
	kept := NonMaxSuppression(dets, 0.5)
	require.Len(t, kept, 2)
	assert.InDelta(t, 0.9, kept[0].Score, 1e-6)
	assert.InDelta(t, 0.7, kept[1].Score, 1e-6)
}

func TestNonMaxSuppression_TiesKeepInputOrder(t *testing.T) {
	first := det(0, 0, 10, 10, 0.9)
	first.Class = 1
	second := det(0, 0, 10, 10, 0.9)
	second.Class = 2

	kept := NonMaxSuppression([]Detection{first, second}, 0.45)
	require.Len(t, kept, 1)
	assert.Equal(t, 1, kept[0].Class)

	kept = NonMaxSuppression([]Detection{second, first}, 0.45)
	require.Len(t, kept, 1)
	assert.Equal(t, 2, kept[0].Class)
}

func TestNonMaxSuppression_InputNotMutated(t *testing.T) {
	dets := []Detection{
		det(0, 0, 10, 10, 0.5),
		det(0, 0, 10, 10, 0.9),
	}
	snapshot := append([]Detection(nil), dets...)
	kept := NonMaxSuppression(dets, 0.45)
	assert.Equal(t, snapshot, dets)
	require.Len(t, kept, 1)
	assert.InDelta(t, 0.9, kept[0].Score, 1e-6)
}

func TestNonMaxSuppression_Empty(t *testing.T) {
	kept := NonMaxSuppression(nil, 0.45)
	assert.NotNil(t, kept)
	assert.Empty(t, kept)
}

func TestClassAwareNonMaxSuppression(t *testing.T) {
	a := det(0, 0, 10, 10, 0.9)
	b := det(0, 0, 10, 10, 0.8)
	b.Class = 1
	c := det(1, 1, 10, 10, 0.7)

	kept := ClassAwareNonMaxSuppression([]Detection{a, b, c}, 0.45)
	require.Len(t, kept, 2)
	assert.Equal(t, 0, kept[0].Class)
	assert.Equal(t, 1, kept[1].Class)

	assert.Len(t, NonMaxSuppression([]Detection{a, b, c}, 0.45), 1)
}

func TestSoftNonMaxSuppression(t *testing.T) {
	dets := []Detection{
		det(0, 0, 10, 10, 0.9),
		det(1, 1, 9, 9, 0.8),
		det(20, 20, 30, 30, 0.7),
	}

	linear := SoftNonMaxSuppression(dets, NMSMethodLinear, 0.5, 0, 0.1, false)
	require.Len(t, linear, 3)
	assert.InDelta(t, 0.9, linear[0].Score, 1e-6)
	assert.InDelta(t, 0.7, linear[1].Score, 1e-6)
	iou := IoU(dets[0].Box, dets[1].Box)
	assert.InDelta(t, 0.8*(1-iou), linear[2].Score, 1e-6)

	gaussian := SoftNonMaxSuppression(dets, NMSMethodGaussian, 0.5, 0.5, 0.1, false)
	require.Len(t, gaussian, 3)
	for i := 1; i < len(gaussian); i++ {
		assert.LessOrEqual(t, gaussian[i].Score, gaussian[i-1].Score)
	}

	// A high score threshold drops the decayed box.
	assert.Len(t, SoftNonMaxSuppression(dets, NMSMethodLinear, 0.5, 0, 0.5, false), 2)

	// Input scores are untouched.
	assert.InDelta(t, 0.8, dets[1].Score, 1e-6)
}

func TestSuppress_Dispatch(t *testing.T) {
	dets := []Detection{
		det(0, 0, 10, 10, 0.9),
		det(1, 1, 10, 10, 0.8),
	}

	cfg := DefaultConfig()
	assert.Len(t, Suppress(dets, cfg), 1)

	cfg.NMSMethod = NMSMethodGaussian
	cfg.SoftNMSThresh = 0.01
	assert.Len(t, Suppress(dets, cfg), 2)

	cfg = DefaultConfig()
	cfg.ClassAware = true
	dets[1].Class = 3
	assert.Len(t, Suppress(dets, cfg), 2)
}
