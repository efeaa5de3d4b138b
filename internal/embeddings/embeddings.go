// Package embeddings turns descriptions into fixed-length vectors using the
// Gemini embedding API.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

var ErrInvalidConfig = errors.New("invalid embeddings configuration")

// EmbedAPI is the part of genai.Models used here.
type EmbedAPI interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type Config struct {
	APIKey     string
	Model      string
	Dimensions int
}

type Generator struct {
	api        EmbedAPI
	model      string
	dimensions int
	logger     *zap.Logger
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create genai client: %v", ErrInvalidConfig, err)
	}
	return NewWithAPI(client.Models, cfg, logger)
}

func NewWithAPI(api EmbedAPI, cfg Config, logger *zap.Logger) (*Generator, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model cannot be empty", ErrInvalidConfig)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	return &Generator{
		api:        api,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		logger:     logger.Named("embeddings"),
	}, nil
}

func (g *Generator) Dimensions() int {
	return g.dimensions
}

func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("cannot embed empty text")
	}

	dims := int32(g.dimensions)
	resp, err := g.api.EmbedContent(ctx, g.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errors.New("embeddings response contained no embedding")
	}

	values := resp.Embeddings[0].Values
	if len(values) != g.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(values), g.dimensions)
	}

	g.logger.Debug("generated embedding", zap.Int("text_length", len(text)))
	return values, nil
}
