package scholar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"researchmcp/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestResolvePrecedence(t *testing.T) {
	r := NewResolver(ResolverOptions{})
	ctx := context.Background()

	u, ok := r.Resolve(ctx, models.ScholarPaper{ExternalIDs: map[string]any{"ArXiv": "2301.00001"}})
	assert.True(t, ok)
	assert.Equal(t, "https://arxiv.org/pdf/2301.00001.pdf", u)

	u, ok = r.Resolve(ctx, models.ScholarPaper{
		OpenAccessPDF: &models.OpenAccessPDF{URL: "https://oa.example/paper.pdf"},
		ExternalIDs:   map[string]any{"ArXiv": "2301.00001"},
	})
	assert.True(t, ok)
	assert.Equal(t, "https://oa.example/paper.pdf", u)

	u, ok = r.Resolve(ctx, models.ScholarPaper{
		PaperLinks:  []models.PaperLink{{URL: "https://site/abs"}, {URL: "https://site/Download.PDF"}},
		ExternalIDs: map[string]any{"arXiv": "1"},
	})
	assert.True(t, ok)
	assert.Equal(t, "https://site/Download.PDF", u)

	u, ok = r.Resolve(ctx, models.ScholarPaper{Title: "nothing"})
	assert.False(t, ok)
	assert.Empty(t, u)
}

func TestResolveViaUnpaywall(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "me@example.org", r.URL.Query().Get("email"))
		switch r.URL.Path {
		case "/10.1/best":
			_, _ = w.Write([]byte(`{"best_oa_location":{"url_for_pdf":"https://best/p.pdf"}}`))
		case "/10.1/locs":
			_, _ = w.Write([]byte(`{"best_oa_location":{"url_for_pdf":null},"oa_locations":[{"url_for_pdf":""},{"url_for_pdf":"https://loc/p.pdf"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	r := NewResolver(ResolverOptions{UnpaywallEmail: "me@example.org", UnpaywallURL: srv.URL})
	ctx := context.Background()

	u, ok := r.Resolve(ctx, models.ScholarPaper{ExternalIDs: map[string]any{"DOI": "10.1/best"}})
	assert.True(t, ok)
	assert.Equal(t, "https://best/p.pdf", u)

	u, ok = r.Resolve(ctx, models.ScholarPaper{ExternalIDs: map[string]any{"DOI": "10.1/locs"}})
	assert.True(t, ok)
	assert.Equal(t, "https://loc/p.pdf", u)

	_, ok = r.Resolve(ctx, models.ScholarPaper{ExternalIDs: map[string]any{"DOI": "10.1/missing"}})
	assert.False(t, ok)
	assert.Equal(t, 3, hits)
}

func TestResolveSkipsUnpaywallWithoutEmail(t *testing.T) {
	r := NewResolver(ResolverOptions{UnpaywallEmail: "not-an-email", UnpaywallURL: "http://127.0.0.1:1"})
	_, ok := r.Resolve(context.Background(), models.ScholarPaper{ExternalIDs: map[string]any{"DOI": "10.1/x"}})
	assert.False(t, ok)
}
