package katago

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/baduk-coach/internal/baduk"
)

const (
	DefaultBoardSize = 19
	DefaultKomi      = 7.5
	DefaultRules     = "chinese"
	DefaultMaxVisits = 180

	cacheKeyPrefix = "katago:analysis:"
)

// Sender delivers one request and returns the final response line.
type Sender interface {
	Send(ctx context.Context, payload any, timeout time.Duration) (json.RawMessage, error)
}

// Cache stores final responses keyed by request content.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
}

type Params struct {
	Rules            string
	Komi             float64
	BoardSize        int
	MaxVisits        int
	IncludeOwnership bool
	IncludePolicy    bool
	Timeout          time.Duration
}

func DefaultParams() Params {
	return Params{
		Rules:            DefaultRules,
		Komi:             DefaultKomi,
		BoardSize:        DefaultBoardSize,
		MaxVisits:        DefaultMaxVisits,
		IncludeOwnership: true,
		IncludePolicy:    true,
		Timeout:          120 * time.Second,
	}
}

type ClientOption func(*Client)

func WithCache(c Cache) ClientOption {
	return func(cl *Client) { cl.cache = c }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithShape pins the response adapter instead of probing each response.
func WithShape(s ShapeAdapter) ClientOption {
	return func(cl *Client) { cl.shape = s }
}

// Client turns move histories into analysis requests and decodes the
// answers. Every Analyze is exactly one engine request scoped to the last
// ply.
type Client struct {
	sender Sender
	cache  Cache
	logger *zap.Logger

	mu     sync.RWMutex
	params Params
	shape  ShapeAdapter
}

func NewClient(sender Sender, params Params, opts ...ClientOption) *Client {
	c := &Client{sender: sender, params: params, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Params() Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params
}

func (c *Client) SetParams(p Params) {
	c.mu.Lock()
	c.params = p
	c.mu.Unlock()
}

// PinShape fixes the adapter used for later responses. nil returns the
// client to per-response probing.
func (c *Client) PinShape(s ShapeAdapter) {
	c.mu.Lock()
	c.shape = s
	c.mu.Unlock()
}

func (c *Client) Shape() ShapeAdapter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shape
}

// BuildRequest snapshots moves into a request for the final position.
func (c *Client) BuildRequest(moves []baduk.Move) AnalysisRequest {
	p := c.Params()
	pairs := make([][2]string, 0, len(moves))
	for _, m := range moves {
		pairs = append(pairs, m.Pair())
	}
	return AnalysisRequest{
		Rules:            p.Rules,
		Komi:             p.Komi,
		BoardXSize:       p.BoardSize,
		BoardYSize:       p.BoardSize,
		Moves:            pairs,
		AnalyzeTurns:     []int{len(moves)},
		MaxVisits:        p.MaxVisits,
		IncludeOwnership: p.IncludeOwnership,
		IncludePolicy:    p.IncludePolicy,
	}
}

// Analyze requests analysis of the position after moves.
func (c *Client) Analyze(ctx context.Context, moves []baduk.Move) (*Analysis, error) {
	req := c.BuildRequest(moves)
	stm := baduk.ColorToMove(moves)

	var key string
	if c.cache != nil {
		k, err := CacheKey(req)
		if err == nil {
			key = k
			if b, ok, err := c.cache.Get(ctx, key); err != nil {
				c.logger.Warn("analysis cache get failed", zap.Error(err))
			} else if ok {
				if a, err := c.decode(b, stm); err == nil {
					return a, nil
				}
				c.logger.Warn("analysis cache entry unreadable", zap.String("key", key))
			}
		}
	}

	b, err := c.sender.Send(ctx, req, c.Params().Timeout)
	if err != nil {
		return nil, err
	}
	a, err := c.decode(b, stm)
	if err != nil {
		return nil, err
	}
	if key != "" {
		if err := c.cache.Set(ctx, key, b); err != nil {
			c.logger.Warn("analysis cache set failed", zap.Error(err))
		}
	}
	return a, nil
}

func (c *Client) decode(b []byte, stm baduk.Color) (*Analysis, error) {
	raw, err := DecodeRaw(b)
	if err != nil {
		return nil, err
	}
	shape := c.Shape()
	if shape == nil {
		shape = ProbeShape(raw)
	}

	a := &Analysis{
		ID:         raw.ID,
		SideToMove: stm,
		Raw:        append(json.RawMessage(nil), b...),
	}
	if shape != nil {
		a.Shape = shape.Name()
		a.MoveInfos = shape.Candidates(raw)
		a.Ownership = shape.Ownership(raw)
		a.Root = shape.Root(raw)
	} else {
		a.Root = ExtractRoot(raw)
	}
	if a.MoveInfos == nil {
		a.MoveInfos = []MoveInfo{}
	}
	if len(a.Ownership) == 0 {
		a.Ownership = ExtractOwnership(raw)
	}
	return a, nil
}

// CacheKey hashes the request content. The correlation id is not part of
// the request value, so identical positions share a key.
func CacheKey(req AnalysisRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	sum := sha256.Sum256(b)
	return cacheKeyPrefix + hex.EncodeToString(sum[:]), nil
}
