// Package imagestore ukládá data snímků do objektového úložiště (MinIO / S3).
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound vrací Get pro neexistující objekt.
var ErrNotFound = errors.New("objekt nenalezen")

// Blobs je rozhraní, které používá capture manager a API obrázků.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// ObjectKey sestaví cestu objektu: images/<zařízení>/rok/měsíc/den/<uuid>.png
func ObjectKey(device string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("images/%s/%04d/%02d/%02d/%s.png", device, t.Year(), t.Month(), t.Day(), uuid.NewString())
}

// MinIO implementuje Blobs nad jedním bucketem.
type MinIO struct {
	mc     *minio.Client
	bucket string
}

// MinIOConfig jsou přístupové údaje k úložišti.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseTLS    bool
	Bucket    string
}

// NewMinIO vytvoří klienta a zajistí existenci bucketu.
func NewMinIO(ctx context.Context, cfg MinIOConfig) (*MinIO, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("chyba konfigurace MinIO: %w", err)
	}
	s := &MinIO{mc: mc, bucket: cfg.Bucket}
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureBucket založí bucket, pokud chybí.
func (s *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("MinIO není dostupné: %w", err)
	}
	if !exists {
		if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("nelze vytvořit bucket %q: %w", s.bucket, err)
		}
	}
	return nil
}

func (s *MinIO) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("nelze uložit objekt %q: %w", key, err)
	}
	return nil
}

func (s *MinIO) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("nelze číst objekt %q: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("objekt %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("nelze číst objekt %q: %w", key, err)
	}
	return data, nil
}

func (s *MinIO) Remove(ctx context.Context, key string) error {
	if err := s.mc.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("nelze smazat objekt %q: %w", key, err)
	}
	return nil
}

// Memory drží objekty v mapě. Slouží pro testy a pro běh bez MinIO.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory vytvoří prázdné úložiště.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = bytes.Clone(data)
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("objekt %q: %w", key, ErrNotFound)
	}
	return bytes.Clone(data), nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len vrací počet uložených objektů.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
