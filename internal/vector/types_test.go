package vector

import (
	"encoding/json"
	"testing"

	"pgregory.net/rapid"
)

func TestPaperIDFilterRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := PaperID(rapid.Int64Range(-(1 << 53), 1<<53).Draw(t, "id"))
		got, err := PaperIDFromFilter(id.FilterValue())
		if err != nil {
			t.Fatalf("PaperIDFromFilter(%v): %v", id.FilterValue(), err)
		}
		if got != id {
			t.Fatalf("round trip %d -> %d", id, got)
		}
	})
}

func TestPaperIDFromFilterRejectsFractions(t *testing.T) {
	if _, err := PaperIDFromFilter(12.5); err == nil {
		t.Fatalf("expected error for fractional paper id")
	}
	if _, err := PaperIDFromFilter(1 << 60); err == nil {
		t.Fatalf("expected error for inexact paper id")
	}
}

func TestChunkMetadataSurvivesJSON(t *testing.T) {
	in := ChunkMetadata{
		UserID: 7, PaperID: 42, PaperTitle: "Attention", Page: 2, Type: "text",
		Caption: "", Text: "Figure 1 shows the pipeline .", Grounding: 2,
	}
	b, err := json.Marshal(in.Map())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["paper_id"].(float64) != 42 {
		t.Fatalf("paper_id stored as %v", raw["paper_id"])
	}
	if out := ChunkMetadataFromMap(raw); out != in {
		t.Fatalf("metadata mismatch: %+v vs %+v", out, in)
	}
}
