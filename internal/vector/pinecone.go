package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"researchmcp/internal/util"

	"go.uber.org/zap"
)

// PineconeConfig configures the Pinecone hybrid index. Either Host (data-plane URL)
// or Index must be set; with only Index the host is resolved through the control
// plane, creating the index when it does not exist yet.
type PineconeConfig struct {
	APIKey     string
	Index      string
	Host       string
	ControlURL string
	Cloud      string
	Region     string
	Dimension  int
	Timeout    time.Duration

	// ReadyPoll is the delay between describe calls while a new index initializes.
	ReadyPoll     time.Duration
	ReadyAttempts int
}

type PineconeStore struct {
	cfg    PineconeConfig
	logger *zap.Logger
	client *http.Client

	mu   sync.RWMutex
	host string
}

var errIndexNotFound = errors.New("pinecone index not found")

func NewPineconeStore(cfg PineconeConfig, logger *zap.Logger) *PineconeStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ControlURL == "" {
		cfg.ControlURL = "https://api.pinecone.io"
	}
	if cfg.Cloud == "" {
		cfg.Cloud = "aws"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
	}
	if cfg.ReadyPoll == 0 {
		cfg.ReadyPoll = 2 * time.Second
	}
	if cfg.ReadyAttempts == 0 {
		cfg.ReadyAttempts = 60
	}
	return &PineconeStore{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "pinecone_store")),
		client: &http.Client{Timeout: cfg.Timeout},
		host:   normalizeHost(cfg.Host),
	}
}

func normalizeHost(h string) string {
	h = strings.TrimSpace(h)
	if h == "" {
		return ""
	}
	if !strings.HasPrefix(h, "http://") && !strings.HasPrefix(h, "https://") {
		h = "https://" + h
	}
	return strings.TrimRight(h, "/")
}

type indexDescription struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

// ensureHost resolves the data-plane host once. Concurrent callers block on the
// write lock so the index is described (or created) a single time.
func (s *PineconeStore) ensureHost(ctx context.Context) (string, error) {
	s.mu.RLock()
	host := s.host
	s.mu.RUnlock()
	if host != "" {
		return host, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host != "" {
		return s.host, nil
	}
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return "", fmt.Errorf("PINECONE_API_KEY not set: %w", util.ErrMissingCredential)
	}
	if strings.TrimSpace(s.cfg.Index) == "" {
		return "", fmt.Errorf("pinecone host is required when index is empty")
	}

	desc, err := s.describeIndex(ctx)
	if errors.Is(err, errIndexNotFound) {
		s.logger.Info("creating pinecone index",
			zap.String("index", s.cfg.Index),
			zap.Int("dimension", s.cfg.Dimension),
		)
		if err := s.createIndex(ctx); err != nil {
			return "", err
		}
		desc, err = s.waitReady(ctx)
	}
	if err != nil {
		return "", err
	}
	if desc.Dimension != 0 && desc.Dimension != s.cfg.Dimension {
		return "", fmt.Errorf("pinecone index %q has dimension %d, want %d", s.cfg.Index, desc.Dimension, s.cfg.Dimension)
	}
	h := normalizeHost(desc.Host)
	if h == "" {
		return "", fmt.Errorf("pinecone controller returned empty host for index %q", s.cfg.Index)
	}
	s.host = h
	return h, nil
}

func (s *PineconeStore) describeIndex(ctx context.Context) (indexDescription, error) {
	var desc indexDescription
	endpoint := fmt.Sprintf("%s/indexes/%s", strings.TrimRight(s.cfg.ControlURL, "/"), url.PathEscape(s.cfg.Index))
	status, err := s.do(ctx, http.MethodGet, endpoint, nil, &desc)
	if status == http.StatusNotFound {
		return desc, errIndexNotFound
	}
	if err != nil {
		return desc, fmt.Errorf("pinecone describe index: %w", err)
	}
	return desc, nil
}

func (s *PineconeStore) createIndex(ctx context.Context) error {
	body := map[string]any{
		"name":      s.cfg.Index,
		"dimension": s.cfg.Dimension,
		"metric":    "dotproduct",
		"spec": map[string]any{
			"serverless": map[string]string{"cloud": s.cfg.Cloud, "region": s.cfg.Region},
		},
	}
	endpoint := strings.TrimRight(s.cfg.ControlURL, "/") + "/indexes"
	status, err := s.do(ctx, http.MethodPost, endpoint, body, nil)
	if status == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pinecone create index: %w", err)
	}
	return nil
}

func (s *PineconeStore) waitReady(ctx context.Context) (indexDescription, error) {
	for i := 0; i < s.cfg.ReadyAttempts; i++ {
		desc, err := s.describeIndex(ctx)
		if err != nil && !errors.Is(err, errIndexNotFound) {
			return desc, err
		}
		if err == nil && desc.Status.Ready && desc.Host != "" {
			return desc, nil
		}
		select {
		case <-ctx.Done():
			return desc, ctx.Err()
		case <-time.After(s.cfg.ReadyPoll):
		}
	}
	return indexDescription{}, fmt.Errorf("pinecone index %q not ready after %d checks", s.cfg.Index, s.cfg.ReadyAttempts)
}

// do returns the response status alongside any error so callers can branch on 404/409.
func (s *PineconeStore) do(ctx context.Context, method, endpoint string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode pinecone response: %w", err)
	}
	return resp.StatusCode, nil
}

func (s *PineconeStore) dataPlane(ctx context.Context, path string, in, out any) error {
	host, err := s.ensureHost(ctx)
	if err != nil {
		return err
	}
	if _, err := s.do(ctx, http.MethodPost, host+path, in, out); err != nil {
		return fmt.Errorf("pinecone %s: %w", path, err)
	}
	return nil
}

type pineconeVector struct {
	ID           string         `json:"id"`
	Values       []float32      `json:"values"`
	SparseValues *SparseVector  `json:"sparseValues,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (s *PineconeStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	vectors := make([]pineconeVector, 0, len(records))
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record[%d] has empty id", i)
		}
		if len(r.Dense) != s.cfg.Dimension {
			return fmt.Errorf("record[%d] dense dimension %d, want %d", i, len(r.Dense), s.cfg.Dimension)
		}
		v := pineconeVector{ID: r.ID, Values: r.Dense, Metadata: r.Metadata.Map()}
		if !r.Sparse.Empty() && r.Sparse.Valid() {
			sp := r.Sparse
			v.SparseValues = &sp
		}
		vectors = append(vectors, v)
	}
	req := struct {
		Vectors   []pineconeVector `json:"vectors"`
		Namespace string           `json:"namespace"`
	}{Vectors: vectors, Namespace: namespace}

	var resp struct {
		UpsertedCount int `json:"upsertedCount"`
	}
	if err := s.dataPlane(ctx, "/vectors/upsert", req, &resp); err != nil {
		return err
	}
	s.logger.Debug("pinecone upsert", zap.String("namespace", namespace), zap.Int("upserted", resp.UpsertedCount))
	return nil
}

func (s *PineconeStore) Query(ctx context.Context, q Query) ([]Match, error) {
	if q.TopK <= 0 {
		return []Match{}, nil
	}
	if len(q.Dense) != s.cfg.Dimension {
		return nil, fmt.Errorf("query dense dimension %d, want %d", len(q.Dense), s.cfg.Dimension)
	}
	req := struct {
		Vector          []float32      `json:"vector"`
		SparseVector    *SparseVector  `json:"sparseVector,omitempty"`
		TopK            int            `json:"topK"`
		Namespace       string         `json:"namespace"`
		IncludeMetadata bool           `json:"includeMetadata"`
		Filter          map[string]any `json:"filter"`
	}{
		Vector:          q.Dense,
		TopK:            q.TopK,
		Namespace:       q.Namespace,
		IncludeMetadata: true,
		Filter:          map[string]any{"paper_id": map[string]any{"$eq": q.PaperID.FilterValue()}},
	}
	if !q.Sparse.Empty() && q.Sparse.Valid() {
		sp := q.Sparse
		req.SparseVector = &sp
	}

	var resp struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := s.dataPlane(ctx, "/query", req, &resp); err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		out = append(out, Match{ID: m.ID, Score: m.Score, Metadata: ChunkMetadataFromMap(m.Metadata)})
	}
	return out, nil
}

type IndexStats struct {
	Dimension        int            `json:"dimension"`
	TotalVectorCount int            `json:"totalVectorCount"`
	Namespaces       map[string]int `json:"-"`
}

func (s *PineconeStore) DescribeStats(ctx context.Context) (IndexStats, error) {
	var resp struct {
		Dimension        int `json:"dimension"`
		TotalVectorCount int `json:"totalVectorCount"`
		Namespaces       map[string]struct {
			VectorCount int `json:"vectorCount"`
		} `json:"namespaces"`
	}
	if err := s.dataPlane(ctx, "/describe_index_stats", struct{}{}, &resp); err != nil {
		return IndexStats{}, err
	}
	stats := IndexStats{
		Dimension:        resp.Dimension,
		TotalVectorCount: resp.TotalVectorCount,
		Namespaces:       make(map[string]int, len(resp.Namespaces)),
	}
	for ns, st := range resp.Namespaces {
		stats.Namespaces[ns] = st.VectorCount
	}
	return stats, nil
}

func (s *PineconeStore) Ready(ctx context.Context) error {
	_, err := s.DescribeStats(ctx)
	return err
}
