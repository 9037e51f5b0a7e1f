package vector

import (
	"testing"

	"pgregory.net/rapid"
)

func TestWeightByAlphaLaw(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		alpha := rapid.Float64Range(0, 1).Draw(t, "alpha")
		n := rapid.IntRange(0, 16).Draw(t, "n")
		sparse := SparseVector{Indices: make([]uint32, n), Values: make([]float32, n)}
		for i := 0; i < n; i++ {
			sparse.Indices[i] = uint32(i * 7)
			sparse.Values[i] = rapid.Float32Range(-10, 10).Draw(t, "sv")
		}
		dense := rapid.SliceOfN(rapid.Float32Range(-10, 10), 1, 32).Draw(t, "dense")

		gotS, gotD := WeightByAlpha(sparse, dense, alpha)
		if len(gotS.Indices) != n || len(gotS.Values) != n {
			t.Fatalf("sparse length changed: %d/%d want %d", len(gotS.Indices), len(gotS.Values), n)
		}
		for i := range sparse.Values {
			if gotS.Indices[i] != sparse.Indices[i] {
				t.Fatalf("index %d changed", i)
			}
			if want := sparse.Values[i] * float32(1-alpha); gotS.Values[i] != want {
				t.Fatalf("sparse[%d] = %v, want %v", i, gotS.Values[i], want)
			}
		}
		for i := range dense {
			if want := dense[i] * float32(alpha); gotD[i] != want {
				t.Fatalf("dense[%d] = %v, want %v", i, gotD[i], want)
			}
		}
	})
}

func TestWeightByAlphaEndpoints(t *testing.T) {
	sparse := SparseVector{Indices: []uint32{1, 2}, Values: []float32{0.5, 2}}
	dense := []float32{1, -3}

	s, d := WeightByAlpha(sparse, dense, 1)
	for _, v := range s.Values {
		if v != 0 {
			t.Fatalf("alpha=1 sparse value %v, want 0", v)
		}
	}
	if d[0] != 1 || d[1] != -3 {
		t.Fatalf("alpha=1 dense changed: %v", d)
	}

	s, d = WeightByAlpha(sparse, dense, 0)
	for _, v := range d {
		if v != 0 {
			t.Fatalf("alpha=0 dense value %v, want 0", v)
		}
	}
	if s.Values[0] != 0.5 || s.Values[1] != 2 {
		t.Fatalf("alpha=0 sparse changed: %v", s.Values)
	}
}

func TestWeightByAlphaMalformedSparse(t *testing.T) {
	s, d := WeightByAlpha(SparseVector{Indices: []uint32{1, 2}, Values: []float32{1}}, []float32{2}, 0.5)
	if !s.Empty() || len(s.Values) != 0 {
		t.Fatalf("expected empty sparse, got %+v", s)
	}
	if len(d) != 1 || d[0] != 1 {
		t.Fatalf("unexpected dense: %v", d)
	}
}

func TestWeightByAlphaDoesNotMutateInput(t *testing.T) {
	sparse := SparseVector{Indices: []uint32{3}, Values: []float32{4}}
	dense := []float32{8}
	_, _ = WeightByAlpha(sparse, dense, 0.25)
	if sparse.Values[0] != 4 || dense[0] != 8 {
		t.Fatalf("inputs mutated: %v %v", sparse.Values, dense)
	}
}
