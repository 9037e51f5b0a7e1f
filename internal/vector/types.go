package vector

import (
	"context"
	"fmt"
	"math"
	"strconv"
)

// SparseDim is the size of the hashed token space used by sparse vectors.
const SparseDim = 1 << 24

// PaperID is the canonical paper identity. Stores that filter on floats must go
// through FilterValue and PaperIDFromFilter; never cast inline.
type PaperID int64

func (p PaperID) FilterValue() float64 {
	return float64(p)
}

// Int64 is the key used by relational stores.
func (p PaperID) Int64() int64 {
	return int64(p)
}

func (p PaperID) String() string {
	return strconv.FormatInt(int64(p), 10)
}

// PaperIDFromFilter converts a store's float representation back to a PaperID.
// Values above 2^53 cannot be represented exactly and are rejected.
func PaperIDFromFilter(v float64) (PaperID, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, fmt.Errorf("paper_id %v is not an integer", v)
	}
	if math.Abs(v) > 1<<53 {
		return 0, fmt.Errorf("paper_id %v exceeds exact float range", v)
	}
	return PaperID(int64(v)), nil
}

type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Valid reports whether indices and values pair up.
func (s SparseVector) Valid() bool {
	return len(s.Indices) == len(s.Values)
}

func (s SparseVector) Empty() bool {
	return len(s.Indices) == 0
}

type ChunkMetadata struct {
	UserID     int64
	PaperID    PaperID
	PaperTitle string
	Page       int
	Type       string
	Caption    string
	Text       string
	Grounding  int
}

// Map renders the metadata as stored alongside vectors. paper_id is the float
// filter value so that equality filters match what was written.
func (m ChunkMetadata) Map() map[string]any {
	return map[string]any{
		"user_id":     m.UserID,
		"paper_id":    m.PaperID.FilterValue(),
		"paper_title": m.PaperTitle,
		"page":        m.Page,
		"type":        m.Type,
		"caption":     m.Caption,
		"text":        m.Text,
		"grounding":   m.Grounding,
	}
}

// ChunkMetadataFromMap accepts decoded JSON metadata; numbers arrive as float64.
func ChunkMetadataFromMap(raw map[string]any) ChunkMetadata {
	var m ChunkMetadata
	if raw == nil {
		return m
	}
	m.UserID = int64(number(raw["user_id"]))
	if pid, err := PaperIDFromFilter(number(raw["paper_id"])); err == nil {
		m.PaperID = pid
	}
	m.PaperTitle, _ = raw["paper_title"].(string)
	m.Page = int(number(raw["page"]))
	m.Type, _ = raw["type"].(string)
	m.Caption, _ = raw["caption"].(string)
	m.Text, _ = raw["text"].(string)
	m.Grounding = int(number(raw["grounding"]))
	return m
}

func number(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}

type Record struct {
	ID       string
	Dense    []float32
	Sparse   SparseVector
	Metadata ChunkMetadata
}

type Query struct {
	Namespace string
	Dense     []float32
	Sparse    SparseVector
	PaperID   PaperID
	TopK      int
}

// Match is the single result shape every store converts into on receipt.
type Match struct {
	ID       string
	Score    float64
	Metadata ChunkMetadata
}

type Store interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, q Query) ([]Match, error)
	Ready(ctx context.Context) error
}
