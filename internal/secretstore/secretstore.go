// Package secretstore is a thin, scope-aware wrapper over storage.SecretStore
// that seals every value with internal/gofercrypto's AES-GCM envelope before
// it ever reaches the storage layer, so the on-disk/on-wire representation of
// a secret is never the plaintext (spec: Secret Store, key→encrypted bytes).
package secretstore

import (
	"context"
	"fmt"

	"github.com/clintjedwards/gofer-sub002/internal/gofercrypto"
	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

const envelopeInfo = "secret_store"

// Store wraps a storage.SecretStore, encrypting/decrypting transparently.
type Store struct {
	backend   storage.SecretStore
	masterKey []byte
}

// New builds a Store. masterKey must be exactly 32 bytes; callers typically
// derive it once at startup via gofercrypto.DeriveMasterKey.
func New(backend storage.SecretStore, masterKey []byte) (*Store, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("secret store master key must be 32 bytes, got %d", len(masterKey))
	}
	return &Store{backend: backend, masterKey: masterKey}, nil
}

// scope always ends in "/" so a pipeline named "foo-1" can never collide as a
// string prefix of one named "foo-10".
func scope(namespace, pipeline string) string {
	return fmt.Sprintf("%s/%s/", namespace, pipeline)
}

func (s *Store) subject(scope, key string) []byte {
	return []byte(scope + "/" + key)
}

func (s *Store) PutSecret(ctx context.Context, namespace, pipeline, key string, plaintext []byte) error {
	sc := scope(namespace, pipeline)
	ciphertext, err := gofercrypto.EncryptEnvelope(s.masterKey, s.subject(sc, key), envelopeInfo, plaintext)
	if err != nil {
		return gofererr.NewInternal("secret_encrypt", err.Error(), "")
	}
	return s.backend.PutSecret(ctx, sc, key, ciphertext)
}

func (s *Store) GetSecret(ctx context.Context, namespace, pipeline, key string) ([]byte, error) {
	sc := scope(namespace, pipeline)
	ciphertext, err := s.backend.GetSecret(ctx, sc, key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gofercrypto.DecryptEnvelope(s.masterKey, s.subject(sc, key), envelopeInfo, ciphertext)
	if err != nil {
		return nil, gofererr.NewInternal("secret_decrypt", err.Error(), "")
	}
	return plaintext, nil
}

func (s *Store) ListSecretKeys(ctx context.Context, namespace, pipeline string) ([]string, error) {
	return s.backend.ListSecretKeys(ctx, scope(namespace, pipeline))
}

func (s *Store) DeleteSecret(ctx context.Context, namespace, pipeline, key string) error {
	return s.backend.DeleteSecret(ctx, scope(namespace, pipeline), key)
}
