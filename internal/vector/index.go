// Package vector is a small similarity index kept in redis. Points are
// scanned in full on every query and ranked by cosine similarity.
package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "linkarchive:vector:"

var ErrDimension = errors.New("vector dimension mismatch")

type Match struct {
	Score   float32         `json:"score"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type point struct {
	Vector  []float32       `json:"vector"`
	Payload json.RawMessage `json:"payload"`
}

type Index struct {
	client     *redis.Client
	collection string
	dimension  int
	limit      int
	logger     *zap.Logger
}

func New(client *redis.Client, collection string, dimension, limit int, logger *zap.Logger) *Index {
	if limit <= 0 {
		limit = 100
	}
	return &Index{
		client:     client,
		collection: collection,
		dimension:  dimension,
		limit:      limit,
		logger:     logger.Named("vector"),
	}
}

func (ix *Index) metaKey() string   { return keyPrefix + ix.collection + ":dimension" }
func (ix *Index) pointsKey() string { return keyPrefix + ix.collection + ":points" }

// Init creates the collection if it is missing and checks that an existing
// one was created with the same dimension.
func (ix *Index) Init(ctx context.Context) error {
	created, err := ix.client.SetNX(ctx, ix.metaKey(), ix.dimension, 0).Result()
	if err != nil {
		return fmt.Errorf("querying vector collection failed: %w", err)
	}
	if created {
		ix.logger.Info("created vector collection",
			zap.String("collection", ix.collection), zap.Int("dimension", ix.dimension))
		return nil
	}

	raw, err := ix.client.Get(ctx, ix.metaKey()).Result()
	if err != nil {
		return fmt.Errorf("querying vector collection failed: %w", err)
	}
	dim, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("corrupt collection metadata %q: %w", raw, err)
	}
	if dim != ix.dimension {
		return fmt.Errorf("%w: collection %s has %d, configured %d", ErrDimension, ix.collection, dim, ix.dimension)
	}
	return nil
}

func (ix *Index) Upsert(ctx context.Context, vec []float32, payload json.RawMessage) (string, error) {
	if len(vec) != ix.dimension {
		return "", fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vec), ix.dimension)
	}

	id := uuid.New().String()
	data, err := json.Marshal(point{Vector: vec, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("marshal point: %w", err)
	}
	if err := ix.client.HSet(ctx, ix.pointsKey(), id, data).Err(); err != nil {
		return "", fmt.Errorf("inserting vector into db failed: %w", err)
	}
	return id, nil
}

// Query returns up to the configured limit of points, most similar first.
func (ix *Index) Query(ctx context.Context, vec []float32) ([]Match, error) {
	if len(vec) != ix.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vec), ix.dimension)
	}

	all, err := ix.client.HGetAll(ctx, ix.pointsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to search vector db: %w", err)
	}

	matches := make([]Match, 0, len(all))
	for id, raw := range all {
		var p point
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			ix.logger.Warn("skipping corrupt point", zap.String("id", id), zap.Error(err))
			continue
		}
		matches = append(matches, Match{
			Score:   cosine(vec, p.Vector),
			ID:      id,
			Payload: p.Payload,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > ix.limit {
		matches = matches[:ix.limit]
	}
	return matches, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
