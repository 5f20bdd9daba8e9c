package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/medic-ops/medic/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	sqlStore, err := store.New(filepath.Join(t.TempDir(), "medic.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	service, err := NewService(base64.StdEncoding.EncodeToString(key), sqlStore)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func TestSetGetRoundTrip(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if err := service.Set(ctx, "API_TOKEN", "s3cret-value", "prod token", "ops@example.com"); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	value, err := service.Get(ctx, "API_TOKEN")
	if err != nil {
		t.Fatalf("get secret: %v", err)
	}
	if value != "s3cret-value" {
		t.Fatalf("unexpected plaintext %q", value)
	}

	// List never exposes ciphertext or plaintext.
	rows, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list secrets: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "API_TOKEN" {
		t.Fatalf("unexpected list %+v", rows)
	}
	if len(rows[0].Ciphertext) != 0 {
		t.Fatal("list leaked ciphertext")
	}
}

func TestSetRejectsInvalidNames(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"", "9starts-with-digit", "has-dash", "has space", "has.dot"} {
		if err := service.Set(ctx, name, "v", "", ""); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("expected ErrInvalidName for %q, got %v", name, err)
		}
	}
	if err := service.Set(ctx, "_ok_Name2", "v", "", ""); err != nil {
		t.Fatalf("expected valid name to pass, got %v", err)
	}
}

func TestDisabledServiceFailsClosed(t *testing.T) {
	service, err := NewService("", nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if service.Enabled() {
		t.Fatal("expected disabled service")
	}
	if err := service.Set(context.Background(), "X", "v", "", ""); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
	if _, err := service.Get(context.Background(), "X"); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}

func TestNewServiceRejectsBadKeys(t *testing.T) {
	if _, err := NewService("not-base64!!!", nil); err == nil {
		t.Fatal("expected error for malformed key")
	}
	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := NewService(short, nil); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestFindReferences(t *testing.T) {
	text := `url: https://example.com?token=${secrets.TOKEN}
header: Bearer ${secrets.TOKEN}
other: ${secrets.DB_PASS} and ${not.a.ref} and ${PLAIN_VAR}`
	got := FindReferences(text)
	want := []string{"TOKEN", "DB_PASS"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestValidateReferences(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	if err := service.Set(ctx, "TOKEN", "v", "", ""); err != nil {
		t.Fatalf("set secret: %v", err)
	}

	if err := service.ValidateReferences(ctx, "uses ${secrets.TOKEN}"); err != nil {
		t.Fatalf("expected known reference to validate, got %v", err)
	}
	err := service.ValidateReferences(ctx, "uses ${secrets.MISSING}")
	if !errors.Is(err, ErrSecretMissing) {
		t.Fatalf("expected ErrSecretMissing, got %v", err)
	}
}

func TestSubstituterCachesAndFailsOnMissing(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	if err := service.Set(ctx, "TOKEN", "abc123", "", ""); err != nil {
		t.Fatalf("set secret: %v", err)
	}

	sub := service.NewSubstituter()
	out, err := sub.Substitute(ctx, "Bearer ${secrets.TOKEN} / ${secrets.TOKEN}")
	if err != nil {
		t.Fatalf("substitute: %v", err)
	}
	if out != "Bearer abc123 / abc123" {
		t.Fatalf("unexpected substitution %q", out)
	}

	// Delete behind the cache; the cached value still resolves.
	if err := service.Delete(ctx, "TOKEN"); err != nil {
		t.Fatalf("delete secret: %v", err)
	}
	out, err = sub.Substitute(ctx, "${secrets.TOKEN}")
	if err != nil || out != "abc123" {
		t.Fatalf("expected cached value, got %q err=%v", out, err)
	}

	// A fresh substituter sees the deletion and fails the step.
	if _, err := service.NewSubstituter().Substitute(ctx, "${secrets.TOKEN}"); !errors.Is(err, store.ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}

	// Plain ${VAR} references are untouched by secret substitution.
	out, err = sub.Substitute(ctx, "${SERVICE_NAME} stays")
	if err != nil || out != "${SERVICE_NAME} stays" {
		t.Fatalf("expected plain reference preserved, got %q err=%v", out, err)
	}
}
