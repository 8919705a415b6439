package contentstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/knowgraph/knowgraph-backend/internal/logger"
	pkgerrors "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
	"github.com/knowgraph/knowgraph-backend/internal/utils"
)

// Store persists raw document bytes under
// sources/{ontology}/{content_hash[:32]}.{ext}. Keys are hash-derived, so
// a repeated put of the same content is a no-op.
type Store struct {
	root string
	log  *logger.Logger
}

func NewStore(log *logger.Logger) *Store {
	root := utils.GetEnv("CONTENT_STORE_ROOT", "./data/content", log)
	return &Store{
		root: root,
		log:  log.With("service", "ContentStore"),
	}
}

// Key builds the storage key. The hash arrives as "sha256:<hex>"; the key
// keeps the first 32 hex chars, a 128-bit namespace.
func Key(ontology, contentHash, ext string) string {
	hex := strings.TrimPrefix(contentHash, "sha256:")
	if len(hex) > 32 {
		hex = hex[:32]
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "txt"
	}
	return fmt.Sprintf("sources/%s/%s.%s", ontology, hex, ext)
}

func (s *Store) Put(ctx context.Context, ontology, contentHash, ext string, data []byte) (string, error) {
	if ontology == "" || contentHash == "" {
		return "", pkgerrors.ErrInvalidArgument
	}
	key := Key(ontology, contentHash, ext)
	path := filepath.Join(s.root, filepath.FromSlash(key))

	if _, err := os.Stat(path); err == nil {
		return key, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("contentstore mkdir: %w", err)
	}

	// Write-then-rename so readers never see a partial file.
	tmp := path + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("contentstore write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("contentstore rename: %w", err)
	}
	return key, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, fmt.Errorf("contentstore read: %w", err)
	}
	return data, nil
}

// GetRange returns n bytes starting at off, clamped to the file size.
func (s *Store) GetRange(ctx context.Context, key string, off, n int) ([]byte, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if off < 0 || off > len(data) {
		return nil, pkgerrors.ErrInvalidArgument
	}
	end := off + n
	if n < 0 || end > len(data) {
		end = len(data)
	}
	return data[off:end], nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("contentstore delete: %w", err)
	}
	return nil
}
