package detector

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/segpost/internal/mempool"
)

const iouEpsilon = 1e-6

// IoU computes intersection over union with a small epsilon in the
// denominator. Intersection sides are clamped at zero.
func IoU(a, b Box) float32 {
	iw := max(0, min(a.Right, b.Right)-max(a.Left, b.Left))
	ih := max(0, min(a.Bottom, b.Bottom)-max(a.Top, b.Top))
	inter := iw * ih
	return inter / (a.Area() + b.Area() - inter + iouEpsilon)
}

// sortedByScore returns indices of dets ordered by descending score. Equal
// scores keep their input order.
func sortedByScore(dets []Detection) []int {
	idx := make([]int, len(dets))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return dets[idx[i]].Score > dets[idx[j]].Score
	})
	return idx
}

// NonMaxSuppression performs class-agnostic greedy NMS. The input is not
// modified; the result is a new slice in descending score order.
func NonMaxSuppression(dets []Detection, iouThreshold float32) []Detection {
	return greedy(dets, iouThreshold, false)
}

// ClassAwareNonMaxSuppression is NonMaxSuppression restricted to pairs of
// the same class.
func ClassAwareNonMaxSuppression(dets []Detection, iouThreshold float32) []Detection {
	return greedy(dets, iouThreshold, true)
}

func greedy(dets []Detection, iouThreshold float32, classAware bool) []Detection {
	if len(dets) == 0 {
		return []Detection{}
	}

	order := sortedByScore(dets)
	suppressed := mempool.GetBool(len(dets))
	defer mempool.PutBool(suppressed)

	kept := make([]Detection, 0, len(dets))
	for i, a := range order {
		if suppressed[a] {
			continue
		}
		kept = append(kept, dets[a])

		for _, b := range order[i+1:] {
			if suppressed[b] {
				continue
			}
			if classAware && dets[a].Class != dets[b].Class {
				continue
			}
			if IoU(dets[a].Box, dets[b].Box) > iouThreshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}

// softNMSWeight returns the score decay for a box overlapping a kept box.
func softNMSWeight(iou, iouThreshold, sigma float32, method string) float32 {
	switch method {
	case NMSMethodLinear:
		if iou > iouThreshold {
			return 1 - iou
		}
		return 1
	case NMSMethodGaussian:
		return float32(math.Exp(float64(-(iou * iou) / sigma)))
	default:
		if iou > iouThreshold {
			return 0
		}
		return 1
	}
}

// SoftNonMaxSuppression decays the scores of overlapping boxes instead of
// dropping them outright, then discards detections whose decayed score
// falls below scoreThresh. Returned detections carry their decayed scores.
func SoftNonMaxSuppression(dets []Detection, method string, iouThreshold, sigma, scoreThresh float32,
	classAware bool,
) []Detection {
	work := make([]Detection, 0, len(dets))
	for _, i := range sortedByScore(dets) {
		work = append(work, dets[i])
	}

	kept := make([]Detection, 0, len(work))
	for len(work) > 0 {
		best := 0
		for i := 1; i < len(work); i++ {
			if work[i].Score > work[best].Score {
				best = i
			}
		}
		top := work[best]
		work = append(work[:best], work[best+1:]...)
		if top.Score < scoreThresh {
			break
		}
		kept = append(kept, top)

		for i := range work {
			if classAware && work[i].Class != top.Class {
				continue
			}
			work[i].Score *= softNMSWeight(IoU(top.Box, work[i].Box), iouThreshold, sigma, method)
		}
	}
	return kept
}

// Suppress applies the NMS variant selected by cfg.
func Suppress(dets []Detection, cfg Config) []Detection {
	switch cfg.NMSMethod {
	case NMSMethodLinear, NMSMethodGaussian:
		return SoftNonMaxSuppression(dets, cfg.NMSMethod, cfg.IoUThreshold, cfg.SoftNMSSigma, cfg.SoftNMSThresh,
			cfg.ClassAware)
	default:
		return greedy(dets, cfg.IoUThreshold, cfg.ClassAware)
	}
}
