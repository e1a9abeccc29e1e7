package detector

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genDetection generates a random detection. Scores are drawn from a small
// set so that ties occur regularly.
func genDetection() gopter.Gen {
	return gopter.CombineGens(
		gen.Float32Range(0, 190),
		gen.Float32Range(0, 190),
		gen.Float32Range(2, 60),
		gen.Float32Range(2, 60),
		gen.IntRange(1, 5),
		gen.IntRange(0, 2),
	).Map(func(vals []interface{}) Detection {
		x, _ := vals[0].(float32)
		y, _ := vals[1].(float32)
		w, _ := vals[2].(float32)
		h, _ := vals[3].(float32)
		s, _ := vals[4].(int)
		c, _ := vals[5].(int)
		return Detection{
			Box:   Box{Left: x, Top: y, Right: x + w, Bottom: y + h},
			Score: float32(s) / 5,
			Class: c,
		}
	})
}

func genDetections() gopter.Gen {
	return gen.SliceOfN(25, genDetection())
}

// indexOf finds the input position of a kept detection. Generated boxes
// are compared by value; duplicates resolve to the first match.
func indexOf(dets []Detection, d Detection) int {
	for i, x := range dets {
		if x.Box == d.Box && x.Score == d.Score && x.Class == d.Class {
			return i
		}
	}
	return -1
}

func TestNonMaxSuppression_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("output is no larger than input", prop.ForAll(
		func(dets []Detection, theta float32) bool {
			return len(NonMaxSuppression(dets, theta)) <= len(dets)
		},
		genDetections(),
		gen.Float32Range(0.1, 0.9),
	))

	properties.Property("output is sorted by score", prop.ForAll(
		func(dets []Detection, theta float32) bool {
			kept := NonMaxSuppression(dets, theta)
			for i := 1; i < len(kept); i++ {
				if kept[i].Score > kept[i-1].Score {
					return false
				}
			}
			return true
		},
		genDetections(),
		gen.Float32Range(0.1, 0.9),
	))

	properties.Property("no kept pair overlaps above the threshold", prop.ForAll(
		func(dets []Detection, theta float32) bool {
			kept := NonMaxSuppression(dets, theta)
			for i := range kept {
				for j := i + 1; j < len(kept); j++ {
					if IoU(kept[i].Box, kept[j].Box) > theta {
						return false
					}
				}
			}
			return true
		},
		genDetections(),
		gen.Float32Range(0.1, 0.9),
	))

	properties.Property("equal scores keep input order", prop.ForAll(
		func(dets []Detection, theta float32) bool {
			kept := NonMaxSuppression(dets, theta)
			for i := 1; i < len(kept); i++ {
				if kept[i].Score == kept[i-1].Score && indexOf(dets, kept[i]) < indexOf(dets, kept[i-1]) {
					return false
				}
			}
			return true
		},
		genDetections(),
		gen.Float32Range(0.1, 0.9),
	))

	properties.Property("class-aware never keeps an overlapping same-class pair", prop.ForAll(
		func(dets []Detection, theta float32) bool {
			kept := ClassAwareNonMaxSuppression(dets, theta)
			for i := range kept {
				for j := i + 1; j < len(kept); j++ {
					if kept[i].Class == kept[j].Class && IoU(kept[i].Box, kept[j].Box) > theta {
						return false
					}
				}
			}
			return true
		},
		genDetections(),
		gen.Float32Range(0.1, 0.9),
	))

	properties.TestingRun(t)
}

func TestIoU_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("IoU(a,a) is about 1", prop.ForAll(
		func(d Detection) bool {
			v := IoU(d.Box, d.Box)
			return v > 0.999 && v <= 1
		},
		genDetection(),
	))

	properties.Property("IoU is symmetric and within [0,1]", prop.ForAll(
		func(a, b Detection) bool {
			x, y := IoU(a.Box, b.Box), IoU(b.Box, a.Box)
			return x == y && x >= 0 && x <= 1
		},
		genDetection(),
		genDetection(),
	))

	properties.Property("disjoint boxes have zero IoU", prop.ForAll(
		func(a Detection, gap float32) bool {
			b := a
			shift := a.Box.Width() + gap
			b.Box.Left += shift
			b.Box.Right += shift
			return IoU(a.Box, b.Box) == 0
		},
		genDetection(),
		gen.Float32Range(0.5, 50),
	))

	properties.TestingRun(t)
}
