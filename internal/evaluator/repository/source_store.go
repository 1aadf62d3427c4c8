package repository

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"nodeo/internal/common/storage"
	appErr "nodeo/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	sourceKeyPrefix = "sources/"
	// hashMetaKey holds the sha256 of the uncompressed source.
	hashMetaKey = "Source-Sha256"
)

// SourceStore keeps zstd-compressed source snapshots in object storage.
type SourceStore struct {
	storage storage.ObjectStorage
	bucket  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewSourceStore creates a store writing to bucket.
func NewSourceStore(objects storage.ObjectStorage, bucket string) (*SourceStore, error) {
	if objects == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &SourceStore{storage: objects, bucket: bucket, encoder: enc, decoder: dec}, nil
}

// SourceKey is the object key of a run's source.
func SourceKey(runID string) string {
	return sourceKeyPrefix + runID + ".zst"
}

// Put uploads code and returns its key and sha256.
func (s *SourceStore) Put(ctx context.Context, runID, code string) (string, string, error) {
	sum := sha256.Sum256([]byte(code))
	compressed := s.encoder.EncodeAll([]byte(code), nil)
	key := SourceKey(runID)
	hash := hex.EncodeToString(sum[:])
	opts := storage.PutOptions{
		ContentType: "application/zstd",
		Metadata:    map[string]string{hashMetaKey: hash},
	}
	if err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), opts); err != nil {
		return "", "", appErr.Wrapf(err, appErr.StorageError, "upload source failed")
	}
	return key, hash, nil
}

// Get downloads and decompresses a source and checks it against hash, or
// against the hash recorded on upload when hash is empty.
func (s *SourceStore) Get(ctx context.Context, key, hash string) (string, error) {
	reader, info, err := s.storage.GetObject(ctx, s.bucket, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return "", appErr.New(appErr.StorageError).WithMessage("source not found").WithDetail("key", key)
	}
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "download source failed")
	}
	if hash == "" {
		hash = metaValue(info.Metadata, hashMetaKey)
	}
	defer reader.Close()
	compressed, err := io.ReadAll(reader)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "read source failed")
	}
	code, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "decompress source failed")
	}
	if hash != "" {
		sum := sha256.Sum256(code)
		if hex.EncodeToString(sum[:]) != hash {
			return "", appErr.New(appErr.InvalidParams).WithMessage("source hash mismatch").WithDetail("key", key)
		}
	}
	return string(code), nil
}

// metaValue looks a key up case-insensitively; stores canonicalize metadata keys.
func metaValue(meta map[string]string, key string) string {
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// Close releases the codec resources.
func (s *SourceStore) Close() {
	s.decoder.Close()
	_ = s.encoder.Close()
}
