package detector

import (
	"github.com/MeKo-Tech/segpost/internal/adapter"
	"github.com/MeKo-Tech/segpost/internal/mask"
)

// classProb treats values inside [0,1] as probabilities and anything else
// as a logit.
func classProb(v float32) float32 {
	if v < 0 || v > 1 {
		return mask.Sigmoid(v)
	}
	return v
}

// Decode extracts detections from h. Candidates whose best class
// probability is below cfg.ConfThreshold, or whose box is narrower or
// shorter than cfg.MinBoxSize, are dropped. The result is in prediction
// order and may be empty.
func Decode(h *adapter.Head, cfg Config) []Detection {
	var (
		scale      = h.CoordScale()
		numClasses = h.NumClasses()
		segDim     = h.SegDim()
		coeffOff   = h.CoeffOffset()
		out        []Detection
	)

	for p := range h.NPred() {
		best, bestClass := float32(-1), -1
		for c := range numClasses {
			if prob := classProb(h.At(p, adapter.BoxChannels+c)); prob > best {
				best, bestClass = prob, c
			}
		}
		if bestClass < 0 || best < cfg.ConfThreshold {
			continue
		}

		w := h.At(p, 2) * scale
		ht := h.At(p, 3) * scale
		// NaN sizes fail this check as well.
		if !(w >= cfg.MinBoxSize && ht >= cfg.MinBoxSize) {
			continue
		}
		cx := h.At(p, 0) * scale
		cy := h.At(p, 1) * scale

		coeffs := make([]float32, segDim)
		for k := range segDim {
			coeffs[k] = h.At(p, coeffOff+k)
		}

		out = append(out, Detection{
			Box:    Box{Left: cx - w/2, Top: cy - ht/2, Right: cx + w/2, Bottom: cy + ht/2},
			Score:  best,
			Class:  bestClass,
			Coeffs: coeffs,
		})
	}
	return out
}
