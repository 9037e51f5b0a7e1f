package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"researchmcp/internal/util"

	"github.com/ledongthuc/pdf"
)

// LocalPDFParser reads text layers in process with ledongthuc/pdf, one or more
// text items per page. Scanned PDFs yield nothing.
type LocalPDFParser struct {
	ChunkSize    int
	ChunkOverlap int
	MaxBytes     int64
	Client       *http.Client
}

func NewLocalPDFParser() *LocalPDFParser {
	return &LocalPDFParser{
		ChunkSize:    1200,
		ChunkOverlap: 150,
		MaxBytes:     64 << 20,
		Client:       &http.Client{Timeout: 2 * time.Minute},
	}
}

func (p *LocalPDFParser) Name() string { return "local_pdf" }

func (p *LocalPDFParser) Parse(ctx context.Context, src Source) ([]Item, error) {
	data := src.Data
	if len(data) == 0 {
		var err error
		data, err = p.download(ctx, src.URL)
		if err != nil {
			return nil, err
		}
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	items := make([]Item, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		for _, chunk := range util.ChunkText(util.SanitizeText(text), p.ChunkSize, p.ChunkOverlap) {
			items = append(items, Item{
				Text:      chunk,
				Type:      "text",
				Grounding: map[string]any{"page": i},
			})
		}
	}
	return items, nil
}

func (p *LocalPDFParser) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download pdf: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download pdf: status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read pdf body: %w", err)
	}
	if int64(len(data)) > p.MaxBytes {
		return nil, fmt.Errorf("pdf exceeds %d bytes", p.MaxBytes)
	}
	if !strings.HasPrefix(string(data[:min(len(data), 5)]), "%PDF") {
		return nil, fmt.Errorf("download pdf: response is not a pdf")
	}
	return data, nil
}
