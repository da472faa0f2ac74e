// Package vault encrypts and resolves named secrets. Plaintext only
// ever exists inside this package; callers above it handle ciphertext
// or the already-resolved map for a single execution.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	rwerr "github.com/runward-io/runward/internal/errors"
	"github.com/runward-io/runward/internal/store"
	"github.com/runward-io/runward/internal/types"
)

const (
	nonceSize = 12 // AES-GCM standard nonce
	tagSize   = 16 // AES-GCM tag
)

// kdfSalt is a fixed domain-separation salt for the master-key KDF.
// The ciphertext format must be decryptable knowing only the algorithm
// and master key, so the salt cannot vary per installation.
var kdfSalt = []byte("runward.vault.v1")

// Vault performs authenticated encryption of secrets and resolves
// them by scope precedence. Safe for concurrent use; the AEAD is
// stateless and every call derives fresh nonces.
type Vault struct {
	aead    cipher.AEAD
	secrets store.Secrets
	logger  *slog.Logger
}

// New derives the data key from the master key via argon2id and
// prepares the AEAD. An empty master key is a configuration error.
func New(masterKey string, secrets store.Secrets, logger *slog.Logger) (*Vault, error) {
	if masterKey == "" {
		return nil, rwerr.ConfigMissingMasterKey("master key")
	}
	key := argon2.IDKey([]byte(masterKey), kdfSalt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead, secrets: secrets, logger: logger}, nil
}

// Encrypt seals plaintext into the opaque ciphertext string:
// base64(nonce || tag || payload). The random nonce makes two
// encryptions of the same plaintext differ.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal appends the tag; reorder to nonce || tag || payload.
	payload := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	out := make([]byte, 0, nonceSize+tagSize+len(payload))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, payload...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	if len(raw) < nonceSize+tagSize {
		return "", rwerr.New(rwerr.CodeSecretCiphertext, "ciphertext too short")
	}
	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	payload := raw[nonceSize+tagSize:]
	sealed := make([]byte, 0, len(payload)+tagSize)
	sealed = append(sealed, payload...)
	sealed = append(sealed, tag...)
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Create encrypts plaintext and persists a new secret, returning its ID.
func (v *Vault) Create(ctx context.Context, name, plaintext, secretType string, scope types.SecretScope, env types.Environment, runbookID string) (string, error) {
	now := time.Now().UTC()
	s := &types.Secret{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        secretType,
		Scope:       scope,
		Environment: env,
		RunbookID:   runbookID,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Validate(); err != nil {
		return "", err
	}
	ct, err := v.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	s.Ciphertext = ct
	if err := v.secrets.Create(ctx, s); err != nil {
		return "", rwerr.StoreIO("secret create", err)
	}
	return s.ID, nil
}

// Resolve decrypts the secret with the given name visible to the
// runbook/environment pair, preferring runbook scope over environment
// scope over organization scope.
func (v *Vault) Resolve(ctx context.Context, name string, env types.Environment, runbookID string) (string, error) {
	candidates, err := v.secrets.ListByName(ctx, name)
	if err != nil {
		return "", rwerr.StoreIO("secret list", err)
	}
	var best *types.Secret
	for _, s := range candidates {
		if !s.MatchesExecution(runbookID, env) {
			continue
		}
		if best == nil || s.Scope.Precedence() > best.Scope.Precedence() {
			best = s
		}
	}
	if best == nil {
		return "", rwerr.SecretNotFound(name)
	}
	plain, err := v.Decrypt(best.Ciphertext)
	if err != nil {
		return "", rwerr.SecretDecrypt(name, err)
	}
	return plain, nil
}

// ResolveAllForExecution materializes the full secret set visible to
// one execution. Each call returns a fresh map so concurrent
// executions never observe each other's secret context. A secret that
// fails to decrypt is logged and omitted; it does not fail the
// execution.
func (v *Vault) ResolveAllForExecution(ctx context.Context, runbookID string, env types.Environment) (map[string]string, error) {
	visible, err := v.secrets.ListForExecution(ctx, runbookID, env)
	if err != nil {
		return nil, rwerr.StoreIO("secret list", err)
	}
	winners := make(map[string]*types.Secret, len(visible))
	for _, s := range visible {
		if prev, ok := winners[s.Name]; ok && prev.Scope.Precedence() >= s.Scope.Precedence() {
			continue
		}
		winners[s.Name] = s
	}
	out := make(map[string]string, len(winners))
	for name, s := range winners {
		plain, err := v.Decrypt(s.Ciphertext)
		if err != nil {
			v.logger.Warn("skipping undecryptable secret",
				"name", name, "scope", string(s.Scope), "error", err)
			continue
		}
		out[name] = plain
	}
	return out, nil
}

// Rotate re-encrypts the secret with new plaintext and bumps its
// version. The old ciphertext is discarded; no history is retained.
func (v *Vault) Rotate(ctx context.Context, secretID, newPlaintext string) error {
	s, err := v.secrets.Get(ctx, secretID)
	if err != nil {
		return rwerr.StoreNotFound("secret", secretID).WithCause(err)
	}
	ct, err := v.Encrypt(newPlaintext)
	if err != nil {
		return err
	}
	s.Ciphertext = ct
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	if err := v.secrets.Update(ctx, s); err != nil {
		return rwerr.StoreIO("secret update", err)
	}
	return nil
}
