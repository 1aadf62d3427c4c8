package repository

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"nodeo/internal/common/storage"
	appErr "nodeo/pkg/errors"
)

type memoryStorage struct {
	objects map[string][]byte
	meta    map[string]map[string]string
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (m *memoryStorage) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	info := storage.ObjectInfo{Size: int64(len(data)), Metadata: m.meta[bucket+"/"+key]}
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

func (m *memoryStorage) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.objects[bucket+"/"+key] = data
	// Mimic S3 canonicalizing user metadata keys.
	meta := map[string]string{}
	for k, v := range opts.Metadata {
		meta[strings.ToLower(k)] = v
	}
	m.meta[bucket+"/"+key] = meta
	return nil
}

func TestSourceStoreRoundTrip(t *testing.T) {
	objects := newMemoryStorage()
	store, err := NewSourceStore(objects, "sources")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	code := strings.Repeat("print('hello')\n", 200)
	key, hash, err := store.Put(context.Background(), "run-1", code)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if key != "sources/run-1.zst" || len(hash) != 64 {
		t.Fatalf("unexpected key/hash: %s %s", key, hash)
	}
	if stored := objects.objects["sources/"+key]; len(stored) >= len(code) {
		t.Fatalf("expected compressed object, got %d bytes for %d", len(stored), len(code))
	}

	got, err := store.Get(context.Background(), key, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != code {
		t.Fatalf("source changed in storage")
	}

	if _, err := store.Get(context.Background(), key, strings.Repeat("0", 64)); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected hash mismatch error, got %v", err)
	}
	if got, err := store.Get(context.Background(), key, ""); err != nil || got != code {
		t.Fatalf("get with recorded hash failed: %v", err)
	}
	objects.meta["sources/"+key][strings.ToLower(hashMetaKey)] = strings.Repeat("1", 64)
	if _, err := store.Get(context.Background(), key, ""); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected recorded hash mismatch, got %v", err)
	}
	if _, err := store.Get(context.Background(), "sources/missing.zst", ""); !appErr.Is(err, appErr.StorageError) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestNewSourceStoreValidates(t *testing.T) {
	if _, err := NewSourceStore(nil, "b"); err == nil {
		t.Fatalf("expected storage required error")
	}
	if _, err := NewSourceStore(newMemoryStorage(), ""); err == nil {
		t.Fatalf("expected bucket required error")
	}
}
