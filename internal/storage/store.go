package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	blobPrefix = "linkarchive:blob:"
	filesKey   = "linkarchive:files"

	// MaxBlobBytes is the largest value redis accepts as a single string.
	MaxBlobBytes = 512 << 20
)

var (
	ErrNotFound = errors.New("blob not found")
	ErrTooLarge = errors.New("file exceeds blob size limit")
)

// CID identifies stored content by its sha256 digest.
type CID string

func (c CID) String() string { return string(c) }

// Store is a content-addressed blob store on top of redis.
type Store struct {
	client   *redis.Client
	maxBytes int64
	logger   *zap.Logger
}

func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func New(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{client: client, maxBytes: MaxBlobBytes, logger: logger.Named("storage")}
}

// Save stores the file at path and returns its CID. Saving the same bytes
// twice yields the same CID and keeps a single blob.
func (s *Store) Save(ctx context.Context, path string) (CID, error) {
	data, err := s.readFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open downloaded file: %w", err)
	}

	sum := sha256.Sum256(data)
	cid := CID(hex.EncodeToString(sum[:]))

	if err := s.client.SetNX(ctx, blobPrefix+cid.String(), data, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to add file to store: %w", err)
	}

	name := filepath.Base(path)
	if err := s.client.HSetNX(ctx, filesKey, name, cid.String()).Err(); err != nil {
		s.logger.Warn("couldn't index file name", zap.String("name", name), zap.Error(err))
	}

	return cid, nil
}

// Get returns the content stored under cid, or ErrNotFound.
func (s *Store) Get(ctx context.Context, cid CID) ([]byte, error) {
	data, err := s.client.Get(ctx, blobPrefix+cid.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return data, nil
}

func (s *Store) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, info.Size(), s.maxBytes)
	}
	return io.ReadAll(f)
}
