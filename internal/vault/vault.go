// SPDX-License-Identifier: MIT

// Package vault stores third-party API keys encrypted at rest. The key is
// derived from machine-bound entropy, so the user is never prompted for a
// password and the file is useless when copied to another machine.
package vault

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/log"
)

// fileVersion is the on-disk vault schema version.
const fileVersion = 1

// maxValueBytes caps a credential value.
const maxValueBytes = 1024

// appSalt is the constant application salt mixed into key derivation.
// Deterministic per installation on purpose: the same machine must derive
// the same key to reopen its vault.
var appSalt = []byte("openreelio-vault-salt-v1")

// Argon2id parameters: memory-hard enough to make offline attacks on the
// machine id expensive, cheap enough for startup.
const (
	kdfMemoryKiB = 8 * 1024
	kdfTime      = 3
	kdfThreads   = 1
	kdfKeyLen    = 32
)

// CredentialType identifies a stored credential and its validation hints.
type CredentialType string

const (
	OpenAI    CredentialType = "openai_api_key"
	Anthropic CredentialType = "anthropic_api_key"
	Google    CredentialType = "google_api_key"
	Custom    CredentialType = "custom_api_key"
)

// ParseCredentialType accepts both canonical keys and short aliases.
func ParseCredentialType(s string) (CredentialType, error) {
	switch strings.ToLower(s) {
	case "openai_api_key", "openai":
		return OpenAI, nil
	case "anthropic_api_key", "anthropic":
		return Anthropic, nil
	case "google_api_key", "google", "gemini":
		return Google, nil
	case "custom_api_key", "custom":
		return Custom, nil
	default:
		return "", apperr.Credential("notFound", "invalid credential type: %s", s)
	}
}

// validateValue enforces hard limits and logs a warning on format
// mismatches. Format hints never refuse storage; the provider's API is
// the real validator.
func (t CredentialType) validateValue(value string, logger zerolog.Logger) error {
	if value == "" {
		return apperr.Validation("credential value is empty")
	}
	if len(value) > maxValueBytes {
		return apperr.Validation("credential value exceeds %d bytes", maxValueBytes)
	}

	switch t {
	case OpenAI:
		if !strings.HasPrefix(value, "sk-") && !strings.HasPrefix(value, "sess-") {
			logger.Warn().Str("type", string(t)).
				Msg("OpenAI key does not match expected format (sk-* or sess-*), storing anyway")
		}
	case Anthropic:
		if !strings.HasPrefix(value, "sk-ant-") {
			logger.Warn().Str("type", string(t)).
				Msg("Anthropic key does not match expected format (sk-ant-*), storing anyway")
		}
	case Google:
		if !strings.HasPrefix(value, "AIza") {
			logger.Warn().Str("type", string(t)).
				Msg("Google key does not match expected format (AIza*), storing anyway")
		}
	}
	return nil
}

// encryptedCredential is one entry of the vault file.
type encryptedCredential struct {
	Ciphertext []byte         `json:"ciphertext"`
	Nonce      []byte         `json:"nonce"`
	Type       CredentialType `json:"credentialType"`
	StoredAt   int64          `json:"storedAt"`
}

type vaultFile struct {
	Version     int                            `json:"version"`
	Credentials map[string]encryptedCredential `json:"credentials"`
}

// Vault is the encrypted credential store. The cache lock protects the
// in-memory map; ioMu serialises disk work separately so readers are not
// blocked behind a slow save.
type Vault struct {
	path string
	key  [kdfKeyLen]byte

	mu    sync.RWMutex
	cache map[string]encryptedCredential

	ioMu sync.Mutex

	logger zerolog.Logger
}

// Open initialises (or loads) the vault at path, deriving the encryption
// key from this machine's identity, the application salt and the vault
// path itself.
func Open(path string) (*Vault, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, apperr.IO("create vault dir", err)
	}

	v := &Vault{
		path:   path,
		cache:  make(map[string]encryptedCredential),
		logger: log.WithComponent("vault"),
	}
	v.key = deriveKey(path)

	if _, err := os.Stat(path); err == nil {
		if err := v.load(); err != nil {
			return nil, err
		}
	}

	v.logger.Info().Str("path", path).Int("credentials", len(v.cache)).Msg("vault opened")
	return v, nil
}

// deriveKey runs Argon2id over machine identity + application salt +
// vault path. Deterministic for the same machine and installation.
func deriveKey(vaultPath string) [kdfKeyLen]byte {
	material := strings.Join([]string{
		"openreelio-credential-vault-v1",
		machineID(),
		vaultPath,
	}, ":")

	var key [kdfKeyLen]byte
	derived := argon2.IDKey([]byte(material), appSalt, kdfTime, kdfMemoryKiB, kdfThreads, kdfKeyLen)
	copy(key[:], derived)
	return key
}

// Store validates, encrypts and durably persists one credential.
func (v *Vault) Store(t CredentialType, value string) error {
	if err := t.validateValue(value, v.logger); err != nil {
		return err
	}

	aead, err := chacha20poly1305.NewX(v.key[:])
	if err != nil {
		return apperr.Credential("encryption", "init cipher: %v", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return apperr.Credential("encryption", "generate nonce: %v", err)
	}

	entry := encryptedCredential{
		Ciphertext: aead.Seal(nil, nonce, []byte(value), nil),
		Nonce:      nonce,
		Type:       t,
		StoredAt:   time.Now().Unix(),
	}

	v.mu.Lock()
	prev, hadPrev := v.cache[string(t)]
	v.cache[string(t)] = entry
	v.mu.Unlock()

	if err := v.save(); err != nil {
		// Keep memory consistent with disk.
		v.mu.Lock()
		if hadPrev {
			v.cache[string(t)] = prev
		} else {
			delete(v.cache, string(t))
		}
		v.mu.Unlock()
		return err
	}

	// The value itself never reaches a log line; the type is enough.
	v.logger.Info().Str("type", string(t)).Msg("credential stored")
	return nil
}

// Retrieve decrypts one credential. Tampered ciphertext fails
// authentication and surfaces as a decryption error.
func (v *Vault) Retrieve(t CredentialType) (string, error) {
	v.mu.RLock()
	entry, ok := v.cache[string(t)]
	v.mu.RUnlock()
	if !ok {
		return "", apperr.Credential("notFound", "credential not found: %s", t)
	}

	aead, err := chacha20poly1305.NewX(v.key[:])
	if err != nil {
		return "", apperr.Credential("decryption", "init cipher: %v", err)
	}
	if len(entry.Nonce) != chacha20poly1305.NonceSizeX {
		return "", apperr.Credential("decryption", "malformed nonce for %s", t)
	}

	plaintext, err := aead.Open(nil, entry.Nonce, entry.Ciphertext, nil)
	if err != nil {
		return "", apperr.Credential("decryption", "decrypt %s: authentication failed", t)
	}
	return string(plaintext), nil
}

// Exists reports whether a credential is stored.
func (v *Vault) Exists(t CredentialType) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.cache[string(t)]
	return ok
}

// Delete removes a credential and persists the change.
func (v *Vault) Delete(t CredentialType) error {
	v.mu.Lock()
	prev, ok := v.cache[string(t)]
	if !ok {
		v.mu.Unlock()
		return apperr.Credential("notFound", "credential not found: %s", t)
	}
	delete(v.cache, string(t))
	v.mu.Unlock()

	if err := v.save(); err != nil {
		v.mu.Lock()
		v.cache[string(t)] = prev
		v.mu.Unlock()
		return err
	}

	v.logger.Info().Str("type", string(t)).Msg("credential deleted")
	return nil
}

// List returns the stored credential type keys, sorted.
func (v *Vault) List() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.cache))
	for k := range v.cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// load reads the vault file into the cache.
func (v *Vault) load() error {
	data, err := os.ReadFile(v.path)
	if err != nil {
		return apperr.IO("read vault", err)
	}

	var file vaultFile
	if err := json.Unmarshal(data, &file); err != nil {
		return apperr.Corrupted(v.path, "", err)
	}
	if file.Version > fileVersion {
		return apperr.Corrupted(v.path, "",
			fmt.Errorf("vault version %d newer than supported %d", file.Version, fileVersion))
	}

	v.mu.Lock()
	v.cache = file.Credentials
	if v.cache == nil {
		v.cache = make(map[string]encryptedCredential)
	}
	v.mu.Unlock()
	return nil
}

// save writes the vault atomically under a cross-process exclusive lock
// on the .lock sibling. Lock acquisition retries briefly, then gives up
// with a timeout instead of blocking the caller forever.
func (v *Vault) save() error {
	v.ioMu.Lock()
	defer v.ioMu.Unlock()

	fl := flock.New(v.path + ".lock")
	acquire := func() error {
		ok, err := fl.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return fmt.Errorf("vault locked by another process")
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(acquire, bo); err != nil {
		return apperr.Timeout("acquire vault lock").WithCause(err)
	}
	defer func() { _ = fl.Unlock() }()

	v.mu.RLock()
	file := vaultFile{Version: fileVersion, Credentials: v.cache}
	data, err := json.MarshalIndent(file, "", "  ")
	v.mu.RUnlock()
	if err != nil {
		return apperr.IO("encode vault", err)
	}

	// Unique temp name in the same directory, then rename. On systems
	// without rename-overwrite, delete first; we hold the lock, so no
	// other process slips in between.
	tmp := v.path + ".tmp." + randomSuffix()
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apperr.IO("write vault temp", err)
	}
	if runtime.GOOS == "windows" {
		_ = os.Remove(v.path)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		_ = os.Remove(tmp)
		return apperr.IO("replace vault", err)
	}
	return nil
}

func randomSuffix() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%x", b)
}
