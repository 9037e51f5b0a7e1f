package lexical

import (
	"errors"
	"math"
	"sort"

	"researchmcp/internal/vector"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrNoTexts    = errors.New("no texts")
	ErrEmptyState = errors.New("bm25_state has no texts")
)

const (
	defaultK1 = 1.2
	defaultB  = 0.75
)

// Encoder is a BM25 sparse encoder fitted on one paper's texts. Token indices are
// hashed into vector.SparseDim, so an encoder fitted on another paper yields valid
// but meaningless vectors.
type Encoder struct {
	k1, b     float64
	nDocs     int
	avgDocLen float64
	docFreq   map[uint32]int
	texts     []string
}

// State is the reconstructable form of an Encoder: the literal corpus it was fit on.
type State struct {
	Texts []string `json:"texts"`
}

func Fit(texts []string) (*Encoder, error) {
	if len(texts) == 0 {
		return nil, ErrNoTexts
	}
	e := &Encoder{
		k1:      defaultK1,
		b:       defaultB,
		docFreq: make(map[uint32]int),
		texts:   append([]string(nil), texts...),
	}
	total := 0
	for _, t := range texts {
		tokens := Tokenize(t)
		total += len(tokens)
		seen := make(map[uint32]struct{}, len(tokens))
		for _, tok := range tokens {
			idx := tokenIndex(tok)
			if _, ok := seen[idx]; ok {
				continue
			}
			seen[idx] = struct{}{}
			e.docFreq[idx]++
		}
	}
	e.nDocs = len(texts)
	e.avgDocLen = float64(total) / float64(e.nDocs)
	if e.avgDocLen == 0 {
		e.avgDocLen = 1
	}
	return e, nil
}

func FromState(st State) (*Encoder, error) {
	if len(st.Texts) == 0 {
		return nil, ErrEmptyState
	}
	return Fit(st.Texts)
}

func (e *Encoder) State() State {
	return State{Texts: append([]string(nil), e.texts...)}
}

func (e *Encoder) NumDocs() int { return e.nDocs }

func tokenIndex(tok string) uint32 {
	return uint32(xxhash.Sum64String(tok) % vector.SparseDim)
}

func (e *Encoder) EncodeDocuments(texts []string) []vector.SparseVector {
	out := make([]vector.SparseVector, len(texts))
	for i, t := range texts {
		out[i] = e.EncodeDocument(t)
	}
	return out
}

// EncodeDocument weights each term by its saturated, length-normalised frequency.
func (e *Encoder) EncodeDocument(text string) vector.SparseVector {
	tokens := Tokenize(text)
	tf := make(map[uint32]float64, len(tokens))
	for _, tok := range tokens {
		tf[tokenIndex(tok)]++
	}
	docLen := float64(len(tokens))
	norm := e.k1 * (1 - e.b + e.b*docLen/e.avgDocLen)
	return build(tf, func(_ uint32, f float64) float64 {
		return f * (e.k1 + 1) / (f + norm)
	})
}

// EncodeQuery weights each distinct term by idf, normalised to sum to one.
// Unseen terms count as appearing in one document.
func (e *Encoder) EncodeQuery(text string) vector.SparseVector {
	idf := make(map[uint32]float64)
	for _, tok := range Tokenize(text) {
		idx := tokenIndex(tok)
		if _, ok := idf[idx]; ok {
			continue
		}
		df, ok := e.docFreq[idx]
		if !ok {
			df = 1
		}
		idf[idx] = math.Log((float64(e.nDocs) + 1) / (float64(df) + 0.5))
	}
	var sum float64
	for _, v := range idf {
		sum += v
	}
	if sum == 0 {
		return vector.SparseVector{}
	}
	return build(idf, func(_ uint32, v float64) float64 { return v / sum })
}

func build(weights map[uint32]float64, f func(uint32, float64) float64) vector.SparseVector {
	idx := make([]uint32, 0, len(weights))
	for k := range weights {
		idx = append(idx, k)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })
	out := vector.SparseVector{Indices: idx, Values: make([]float32, len(idx))}
	for i, k := range idx {
		out.Values[i] = float32(f(k, weights[k]))
	}
	return out
}
