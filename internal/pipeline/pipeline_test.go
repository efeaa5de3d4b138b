package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/podushkina/linkarchive/internal/storage"
	"github.com/podushkina/linkarchive/internal/vector"
)

type fakeDownloader struct {
	err     error
	gotDir  string
	content string
}

func (f *fakeDownloader) Fetch(ctx context.Context, url, dir string) (string, error) {
	f.gotDir = dir
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(dir, "clip.mp4")
	return path, os.WriteFile(path, []byte(f.content+url), 0o644)
}

// wordEmbedder maps a few known words onto axes of a 3-d space.
type wordEmbedder struct {
	err  error
	seen []string
}

func (w *wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	w.seen = append(w.seen, text)
	if w.err != nil {
		return nil, w.err
	}
	switch text {
	case "cats":
		return []float32{1, 0, 0}, nil
	case "dogs":
		return []float32{0, 1, 0}, nil
	default:
		return []float32{0.9, 0.1, 0}, nil
	}
}

func setupPipeline(t *testing.T) (*Pipeline, *fakeDownloader, *wordEmbedder) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ix := vector.New(client, "links", 3, 100, zap.NewNop())
	require.NoError(t, ix.Init(context.Background()))

	dl := &fakeDownloader{content: "bytes of "}
	emb := &wordEmbedder{}
	return &Pipeline{
		Downloader: dl,
		Store:      storage.New(client, zap.NewNop()),
		Embedder:   emb,
		Index:      ix,
		TempDir:    t.TempDir(),
	}, dl, emb
}

func TestPipeline_AddLinkThenSearch(t *testing.T) {
	p, dl, emb := setupPipeline(t)
	ctx := context.Background()

	cats, err := p.AddLink(ctx, "https://example.com/cats", "  cats ")
	require.NoError(t, err)
	_, err = p.AddLink(ctx, "https://example.com/dogs", "dogs")
	require.NoError(t, err)

	var payload Payload
	require.NoError(t, json.Unmarshal(cats.Payload, &payload))
	assert.Equal(t, "  cats ", payload.Description)
	assert.Equal(t, "https://example.com/cats", payload.OriginalLink)
	assert.Len(t, payload.CID, 64)
	assert.Equal(t, "cats", emb.seen[0])

	_, err = os.Stat(dl.gotDir)
	assert.True(t, os.IsNotExist(err), "download dir should be removed")

	result, err := p.Search(ctx, "kittens")
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, cats.ID, result[0].ID)
	assert.Greater(t, result[0].Score, result[1].Score)

	data, err := json.Marshal(result[0])
	require.NoError(t, err)
	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Contains(t, flat, "score")
	assert.Contains(t, flat, "id")
	assert.Contains(t, flat, "payload")
}

func TestPipeline_AddLinkDownloadError(t *testing.T) {
	p, dl, _ := setupPipeline(t)
	dl.err = errors.New("yt-dlp command failed: exit status 1")

	_, err := p.AddLink(context.Background(), "https://example.com/x", "x")
	require.Error(t, err)
	assert.Equal(t, "failed to download link: yt-dlp command failed: exit status 1", err.Error())
	assert.Equal(t, dl.err, errors.Unwrap(err))
}

func TestPipeline_SearchEmbedError(t *testing.T) {
	p, _, emb := setupPipeline(t)
	emb.err = errors.New("upstream 500")

	_, err := p.Search(context.Background(), "anything")
	assert.ErrorContains(t, err, "failed to generate embedding for description")
	assert.ErrorIs(t, err, emb.err)
}
