package postprocess

import (
	"math"
	"sort"
)

// deqntAffineToF32 converts a quantized int8 value back to a float32 using
// the provided zero point and scale
func deqntAffineToF32(qnt int8, zp int32, scale float32) float32 {
	return (float32(qnt) - float32(zp)) * scale
}

// qntF32ToAffine converts a float32 value to an int8 using quantization
// parameters: zero point and scale
func qntF32ToAffine(f32 float32, zp int32, scale float32) int8 {

	dstVal := (f32 / scale) + float32(zp)
	res := clip(dstVal, -128, 127)

	return int8(res)
}

// clip restricts the value x to be within the range min and max and converts
// the result to int
func clip(val, min, max float32) int {

	if val <= min {
		return int(min)
	}

	if val >= max {
		return int(max)
	}

	return int(val)
}

// clamp restricts val to the range [min, max]
func clamp(val, min, max float32) float32 {

	if val < min {
		return min
	}

	if val > max {
		return max
	}

	return val
}

// sortByScore returns candidate indices ordered by descending probability.
// Equal probabilities keep their decode order.
func sortByScore(probs []float32) []int {

	order := make([]int, len(probs))

	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		return probs[order[a]] > probs[order[b]]
	})

	return order
}

// nms runs Non-Maximum Suppression per class over candidates visited in
// order.  Suppressed entries in order are set to -1.
func nms(boxes []Box, classIDs []int, order []int, threshold float32) {

	for i := 0; i < len(order); i++ {

		n := order[i]

		if n == -1 {
			continue
		}

		for j := i + 1; j < len(order); j++ {
			m := order[j]

			if m == -1 || classIDs[m] != classIDs[n] {
				continue
			}

			if calculateOverlap(boxes[n], boxes[m]) > threshold {
				order[j] = -1
			}
		}
	}
}

// calculateOverlap works out the Intersection over Union (IoU) of two
// boxes, counting pixels inclusively
func calculateOverlap(a, b Box) float32 {

	w := math.Max(0.0, math.Min(float64(a.X2), float64(b.X2))-math.Max(float64(a.X1), float64(b.X1))+1.0)
	h := math.Max(0.0, math.Min(float64(a.Y2), float64(b.Y2))-math.Max(float64(a.Y1), float64(b.Y1))+1.0)
	intersection := w * h

	area0 := (a.Width() + 1) * (a.Height() + 1)
	area1 := (b.Width() + 1) * (b.Height() + 1)

	union := area0 + area1 - float32(intersection)

	if union <= 0 {
		return 0.0
	}

	return float32(intersection) / union
}

// computeDFL calculates the Distribution Focal Loss (DFL) expectation for
// each of the four box sides
func computeDFL(tensor []float32, dflLen int) [4]float32 {

	var box [4]float32
	expT := make([]float32, dflLen)

	for b := 0; b < 4; b++ {

		expSum := float32(0)
		accSum := float32(0)

		for i := 0; i < dflLen; i++ {
			expT[i] = float32(math.Exp(float64(tensor[i+b*dflLen])))
			expSum += expT[i]
		}

		for i := 0; i < dflLen; i++ {
			accSum += expT[i] / expSum * float32(i)
		}

		box[b] = accSum
	}

	return box
}
