package vecstore

import "math"

// ScalarQuantizer maps float32 components to int8 using a single
// per-collection (min, max) range, the simplest of the modes named in
// the snapshot header (spec §6). Product and binary quantization are
// reserved mode bytes only; see DESIGN.md for why they're not
// implemented in this core.
type ScalarQuantizer struct {
	Min float32
	Max float32
}

// FitScalarQuantizer computes a quantizer covering the min/max of every
// component across vectors. Call once before snapshotting; the result's
// Min and Max are stored at the start of the snapshot's vector segment.
func FitScalarQuantizer(vectors [][]float32) ScalarQuantizer {
	q := ScalarQuantizer{Min: float32(math.Inf(1)), Max: float32(math.Inf(-1))}
	for _, v := range vectors {
		for _, x := range v {
			if x < q.Min {
				q.Min = x
			}
			if x > q.Max {
				q.Max = x
			}
		}
	}
	if q.Min > q.Max {
		q.Min, q.Max = 0, 0
	}
	return q
}

// Encode quantizes v into dst (len(dst) must equal len(v)).
func (q ScalarQuantizer) Encode(v []float32, dst []int8) {
	span := q.Max - q.Min
	for i, x := range v {
		if span == 0 {
			dst[i] = 0
			continue
		}
		frac := (x - q.Min) / span
		dst[i] = int8(frac*255 - 128)
	}
}

// Decode reconstructs an approximate float32 vector from quantized bytes.
func (q ScalarQuantizer) Decode(src []int8, dst []float32) {
	span := q.Max - q.Min
	for i, b := range src {
		frac := (float32(b) + 128) / 255
		dst[i] = q.Min + frac*span
	}
}
