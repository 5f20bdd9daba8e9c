// Package secrets encrypts named credentials with AES-256-GCM and
// substitutes ${secrets.NAME} references in playbook step fields at
// execution time. Plaintext values are never persisted or listed.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/medic-ops/medic/internal/store"
)

const (
	keyBytes   = 32
	nonceBytes = 12
	tagBytes   = 16
)

var (
	ErrNoKey         = errors.New("secrets encryption key is not configured")
	ErrInvalidName   = errors.New("invalid secret name")
	ErrSecretMissing = errors.New("referenced secret does not exist")

	nameRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	referenceRe = regexp.MustCompile(`\$\{secrets\.([A-Za-z_][A-Za-z0-9_]*)\}`)
)

type secretStore interface {
	UpsertSecret(ctx context.Context, row store.SecretRow) error
	GetSecret(ctx context.Context, name string) (store.SecretRow, error)
	ListSecretNames(ctx context.Context) ([]store.SecretRow, error)
	DeleteSecret(ctx context.Context, name string) error
}

// Service holds the AES key and the backing store. A nil key is allowed so
// deployments without MEDIC_SECRETS_KEY still run; any secret operation then
// fails with ErrNoKey.
type Service struct {
	key   []byte
	store secretStore
}

// NewService parses a base64-encoded 32-byte key. Empty key yields a service
// with encryption disabled.
func NewService(encodedKey string, secretStore secretStore) (*Service, error) {
	service := &Service{store: secretStore}
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return service, nil
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode secrets key: %w", err)
	}
	if len(key) != keyBytes {
		return nil, fmt.Errorf("secrets key must be %d bytes, got %d", keyBytes, len(key))
	}
	service.key = key
	return service, nil
}

func (s *Service) Enabled() bool {
	return len(s.key) == keyBytes
}

// Set encrypts and stores a secret value under name.
func (s *Service) Set(ctx context.Context, name, value, description, actor string) error {
	if !s.Enabled() {
		return ErrNoKey
	}
	name = strings.TrimSpace(name)
	if !nameRe.MatchString(name) {
		return ErrInvalidName
	}
	gcm, err := s.gcm()
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(value), nil)
	// Seal appends the 16-byte auth tag; store it separately.
	ciphertext := sealed[:len(sealed)-tagBytes]
	tag := sealed[len(sealed)-tagBytes:]
	return s.store.UpsertSecret(ctx, store.SecretRow{
		Name:        name,
		Ciphertext:  ciphertext,
		Nonce:       nonce,
		Tag:         tag,
		Description: description,
		Actor:       actor,
	})
}

// Get decrypts a stored secret. Callers must not log the returned value.
func (s *Service) Get(ctx context.Context, name string) (string, error) {
	if !s.Enabled() {
		return "", ErrNoKey
	}
	row, err := s.store.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	sealed := append(append([]byte{}, row.Ciphertext...), row.Tag...)
	plaintext, err := gcm.Open(nil, row.Nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt secret %q: %w", name, err)
	}
	return string(plaintext), nil
}

// List returns secret metadata only.
func (s *Service) List(ctx context.Context) ([]store.SecretRow, error) {
	return s.store.ListSecretNames(ctx)
}

func (s *Service) Delete(ctx context.Context, name string) error {
	return s.store.DeleteSecret(ctx, name)
}

func (s *Service) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

// FindReferences returns the distinct secret names referenced by text, in
// first-seen order.
func FindReferences(text string) []string {
	seen := map[string]struct{}{}
	names := []string{}
	for _, match := range referenceRe.FindAllStringSubmatch(text, -1) {
		name := match[1]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// ValidateReferences checks that every ${secrets.NAME} reference in text
// resolves to a stored secret, without decrypting anything.
func (s *Service) ValidateReferences(ctx context.Context, text string) error {
	names := FindReferences(text)
	if len(names) == 0 {
		return nil
	}
	rows, err := s.store.ListSecretNames(ctx)
	if err != nil {
		return err
	}
	known := map[string]struct{}{}
	for _, row := range rows {
		known[row.Name] = struct{}{}
	}
	for _, name := range names {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("%w: %s", ErrSecretMissing, name)
		}
	}
	return nil
}

// Substituter resolves ${secrets.NAME} references, caching decrypted values
// so one execution decrypts each secret at most once. Not safe for use
// across executions.
type Substituter struct {
	service *Service
	cache   map[string]string
}

func (s *Service) NewSubstituter() *Substituter {
	return &Substituter{service: s, cache: map[string]string{}}
}

// Substitute replaces every secret reference in text. A reference to a
// missing secret fails the whole substitution.
func (sub *Substituter) Substitute(ctx context.Context, text string) (string, error) {
	var firstErr error
	result := referenceRe.ReplaceAllStringFunc(text, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := referenceRe.FindStringSubmatch(match)[1]
		value, cached := sub.cache[name]
		if !cached {
			var err error
			value, err = sub.service.Get(ctx, name)
			if err != nil {
				firstErr = err
				return match
			}
			sub.cache[name] = value
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}
