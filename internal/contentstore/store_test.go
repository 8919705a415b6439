package contentstore

import (
	"context"
	"errors"
	"testing"

	"github.com/knowgraph/knowgraph-backend/internal/logger"
	pkgerrors "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv("CONTENT_STORE_ROOT", t.TempDir())
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewStore(log)
}

func TestKeyLayout(t *testing.T) {
	hash := "sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	got := Key("systems", hash, ".md")
	want := "sources/systems/0123456789abcdef0123456789abcdef.md"
	if got != want {
		t.Fatalf("key: want=%q got=%q", want, got)
	}
	if got := Key("systems", hash, ""); got != "sources/systems/0123456789abcdef0123456789abcdef.txt" {
		t.Fatalf("default ext: got=%q", got)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	data := []byte("cybernetics is the study of control and communication")
	hash := "sha256:aaaa5678aaaa5678aaaa5678aaaa5678aaaa5678aaaa5678aaaa5678aaaa5678"

	key, err := s.Put(ctx, "systems", hash, "txt", data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Idempotent: second put of the same content keeps the same key.
	key2, err := s.Put(ctx, "systems", hash, "txt", data)
	if err != nil {
		t.Fatalf("Put again: %v", err)
	}
	if key2 != key {
		t.Fatalf("key changed: %q vs %q", key, key2)
	}

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestGetRange(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	hash := "sha256:bbbb5678bbbb5678bbbb5678bbbb5678bbbb5678bbbb5678bbbb5678bbbb5678"
	key, err := s.Put(ctx, "systems", hash, "txt", []byte("0123456789"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.GetRange(ctx, key, 2, 3)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if string(got) != "234" {
		t.Fatalf("range: want=%q got=%q", "234", got)
	}

	got, err = s.GetRange(ctx, key, 8, 100)
	if err != nil {
		t.Fatalf("GetRange clamped: %v", err)
	}
	if string(got) != "89" {
		t.Fatalf("clamped range: want=%q got=%q", "89", got)
	}

	if _, err := s.GetRange(ctx, key, -1, 2); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "sources/systems/doesnotexist.txt")
	if !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
