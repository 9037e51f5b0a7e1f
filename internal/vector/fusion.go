package vector

// WeightByAlpha scales the sparse query by (1-alpha) and the dense query by alpha.
// A malformed sparse vector is replaced by an empty one.
func WeightByAlpha(sparse SparseVector, dense []float32, alpha float64) (SparseVector, []float32) {
	if !sparse.Valid() {
		sparse = SparseVector{}
	}
	sw := float32(1 - alpha)
	dw := float32(alpha)

	out := SparseVector{
		Indices: append([]uint32(nil), sparse.Indices...),
		Values:  make([]float32, len(sparse.Values)),
	}
	for i, v := range sparse.Values {
		out.Values[i] = v * sw
	}
	d := make([]float32, len(dense))
	for i, v := range dense {
		d[i] = v * dw
	}
	return out, d
}
