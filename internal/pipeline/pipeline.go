package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/podushkina/linkarchive/internal/storage"
	"github.com/podushkina/linkarchive/internal/vector"
)

type Downloader interface {
	Fetch(ctx context.Context, url, dir string) (string, error)
}

type ContentStore interface {
	Save(ctx context.Context, path string) (storage.CID, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	Upsert(ctx context.Context, vec []float32, payload json.RawMessage) (string, error)
	Query(ctx context.Context, vec []float32) ([]vector.Match, error)
}

type Entry struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type SearchEntry struct {
	Score float32 `json:"score"`
	Entry
}

// SearchResult is ordered by descending score.
type SearchResult []SearchEntry

type Payload struct {
	Description  string `json:"description"`
	OriginalLink string `json:"original_link"`
	CID          string `json:"cid"`
}

type Pipeline struct {
	Downloader Downloader
	Store      ContentStore
	Embedder   Embedder
	Index      Index
	TempDir    string
}

// AddLink downloads link, stores the file, embeds description and indexes
// the result.
func (p *Pipeline) AddLink(ctx context.Context, link, description string) (Entry, error) {
	dir, err := os.MkdirTemp(p.TempDir, "linkarchive-download-")
	if err != nil {
		return Entry{}, fmt.Errorf("failed to create download dir: %w", err)
	}
	defer os.RemoveAll(dir)

	file, err := p.Downloader.Fetch(ctx, link, dir)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to download link: %w", err)
	}

	cid, err := p.Store.Save(ctx, file)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to store downloaded file: %w", err)
	}

	vec, err := p.Embedder.Embed(ctx, strings.TrimSpace(description))
	if err != nil {
		return Entry{}, fmt.Errorf("failed to generate embedding for description: %w", err)
	}

	payload, err := json.Marshal(Payload{
		Description:  description,
		OriginalLink: link,
		CID:          cid.String(),
	})
	if err != nil {
		return Entry{}, fmt.Errorf("marshal payload: %w", err)
	}

	id, err := p.Index.Upsert(ctx, vec, payload)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to index link: %w", err)
	}

	return Entry{ID: id, Payload: payload}, nil
}

func (p *Pipeline) Search(ctx context.Context, description string) (SearchResult, error) {
	vec, err := p.Embedder.Embed(ctx, strings.TrimSpace(description))
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding for description: %w", err)
	}

	matches, err := p.Index.Query(ctx, vec)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector db: %w", err)
	}

	result := make(SearchResult, 0, len(matches))
	for _, m := range matches {
		result = append(result, SearchEntry{
			Score: m.Score,
			Entry: Entry{ID: m.ID, Payload: m.Payload},
		})
	}
	return result, nil
}
