// Package session keeps per-user chat state between turns and runs each turn
// through routing, retrieval, diagram generation and answering.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"researchmcp/internal/models"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

type Mode string

const (
	ModeGeneral Mode = "general"
	// ModeResearch is entered by a research lookup; the client is expected to
	// search and ingest a paper next.
	ModeResearch Mode = "research"
	ModePaper    Mode = "paper"
)

// Entry is one remembered exchange.
type Entry struct {
	Question   string            `json:"question"`
	Answer     string            `json:"answer"`
	SourceType models.SourceType `json:"source_type"`
	D2Code     string            `json:"d2_code,omitempty"`
	SVGPath    string            `json:"svg_path,omitempty"`
}

// Lookup is the paper request captured when routing chose a research lookup.
type Lookup struct {
	PaperTitle string `json:"paper_title"`
	Question   string `json:"question,omitempty"`
}

type State struct {
	UserID        int64   `json:"user_id"`
	Mode          Mode    `json:"mode"`
	PaperID       int64   `json:"paper_id,omitempty"`
	PaperTitle    string  `json:"paper_title,omitempty"`
	PDFURL        string  `json:"pdf_url,omitempty"`
	Memory        []Entry `json:"memory"`
	GeneralMemory []Entry `json:"general_memory"`
	Pending       *Lookup `json:"pending,omitempty"`
}

func newState(userID int64) State {
	return State{UserID: userID, Mode: ModeGeneral}
}

// Recent returns the last n memory entries.
func (s State) Recent(n int) []Entry {
	if n <= 0 || len(s.Memory) <= n {
		return s.Memory
	}
	return s.Memory[len(s.Memory)-n:]
}

type Store interface {
	Get(ctx context.Context, userID int64) (State, bool, error)
	Put(ctx context.Context, st State) error
	Delete(ctx context.Context, userID int64) error
}

// MemoryStore keeps sessions in process with a sliding expiry.
type MemoryStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryStore{cache: cache.New(ttl, 10*time.Minute), ttl: ttl}
}

func (m *MemoryStore) Get(ctx context.Context, userID int64) (State, bool, error) {
	if x, found := m.cache.Get(key(userID)); found {
		st := x.(State)
		m.cache.Set(key(userID), st, cache.DefaultExpiration)
		return st, true, nil
	}
	return State{}, false, nil
}

func (m *MemoryStore) Put(ctx context.Context, st State) error {
	m.cache.Set(key(st.UserID), st, cache.DefaultExpiration)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID int64) error {
	m.cache.Delete(key(userID))
	return nil
}

// RedisStore shares sessions across API replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisStore{client: client, ttl: opts.TTL}
}

func (r *RedisStore) Get(ctx context.Context, userID int64) (State, bool, error) {
	raw, err := r.client.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("get session: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, fmt.Errorf("decode session: %w", err)
	}
	return st, true, nil
}

func (r *RedisStore) Put(ctx context.Context, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, key(st.UserID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID int64) error {
	return r.client.Del(ctx, key(userID)).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// NewStore picks the backend named by backend ("memory" or "redis").
func NewStore(backend string, opts RedisOptions) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(opts.TTL), nil
	case "redis":
		return NewRedisStore(opts), nil
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", backend)
	}
}

func key(userID int64) string {
	return "researchmcp:session:" + strconv.FormatInt(userID, 10)
}
